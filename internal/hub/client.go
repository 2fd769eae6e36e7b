package hub

// Client is the hub's handle on one transport connection. The transport
// drains Outbound; only the manager loop writes to or closes the queue.
type Client struct {
	id    string
	bound UserID
	send  chan []byte
}

// NewClient returns a client whose outbound queue holds buffer frames.
func NewClient(id string, buffer int) *Client {
	if buffer < 1 {
		buffer = 1
	}
	return &Client{id: id, send: make(chan []byte, buffer)}
}

func (c *Client) ID() string { return c.id }

// Outbound yields frames for the connection until the hub closes it.
func (c *Client) Outbound() <-chan []byte { return c.send }

// Bind restricts the connection to a single authenticated user. It must be
// called before the client is registered.
func (c *Client) Bind(user UserID) { c.bound = user }

// permits reports whether the connection may act as user.
func (c *Client) permits(user UserID) bool {
	return c.bound == "" || c.bound == user
}
