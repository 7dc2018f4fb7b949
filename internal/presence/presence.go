// Package presence holds the two pieces of shared routing state: which live
// connections belong to a user, and which users are subscribed to a
// conversation room. Both are injected into the hub so a single node can run
// on process memory while a fleet shares them through Redis.
package presence

import "context"

// Registry maps a user identity to its live connection ids. A user may hold
// several connections at once (tabs, devices).
type Registry interface {
	// Register adds connID to the user's set.
	Register(ctx context.Context, userID, connID string) error
	// Lookup returns every live connection of the user, empty when offline.
	Lookup(ctx context.Context, userID string) ([]string, error)
	// Unregister removes exactly connID and returns the user it was bound to.
	// An unknown connID is a no-op and returns "".
	Unregister(ctx context.Context, connID string) (string, error)
}

// Membership tracks which users are subscribed to which conversation rooms.
// Rooms come into existence on first join and vanish once empty.
type Membership interface {
	Join(ctx context.Context, roomID, userID string) error
	Leave(ctx context.Context, roomID, userID string) error
	Members(ctx context.Context, roomID string) ([]string, error)
	RoomsOf(ctx context.Context, userID string) ([]string, error)
	// LeaveAll removes the user from every room and returns the rooms it left.
	LeaveAll(ctx context.Context, userID string) ([]string, error)
}

// NodePurger is implemented by registries shared between nodes. PurgeNode
// drops the connections a previous run of this node left registered and
// returns the users they belonged to.
type NodePurger interface {
	PurgeNode(ctx context.Context) ([]string, error)
}

// OfflineSweeper is implemented by membership stores that can check the
// paired registry and sweep a user in one atomic step. swept is false when
// the user still had a live connection.
type OfflineSweeper interface {
	LeaveAllIfOffline(ctx context.Context, userID string) (rooms []string, swept bool, err error)
}
