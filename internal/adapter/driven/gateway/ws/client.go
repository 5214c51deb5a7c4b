package ws

// Client is one connected relay peer as the Hub sees it: something to
// close on shutdown.
type Client interface {
	ID() string
	Close() error
}
