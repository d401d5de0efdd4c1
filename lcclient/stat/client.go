package stat

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const statMethod = "/lcfs.Stat/Stat"

// Client is a client for the lcfs stat service.
type Client struct {
	conn *grpc.ClientConn
}

// NewConnection dials the stat service without transport security.
func NewConnection(address string) (*grpc.ClientConn, error) {
	return grpc.Dial(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// New is a constructor for Client
func New(conn *grpc.ClientConn) *Client {
	return &Client{
		conn: conn,
	}
}

// Stat function return stat information about filesystem
func (c *Client) Stat(ctx context.Context) (map[string]interface{}, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, statMethod, new(emptypb.Empty), out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
