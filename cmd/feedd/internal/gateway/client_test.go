package gateway_test

import (
	"net"
	"testing"

	"go.uber.org/zap"

	"github.com/tradebro/marketfeed/cmd/feedd/internal/gateway"
	"github.com/tradebro/marketfeed/cmd/feedd/internal/hub"
	"github.com/tradebro/marketfeed/cmd/feedd/internal/testutils"
	"github.com/tradebro/marketfeed/pkg/models"
)

func TestClientAdapter_SendAfterCloseIsDropped(t *testing.T) {
	server, conn := net.Pipe()
	defer server.Close()

	h := hub.NewHub(testutils.NewMockStore(), zap.NewNop())
	c := gateway.NewClient(conn, h, zap.NewNop())

	c.Close()

	// Must be no-ops, not a panic on the closed send channel.
	c.SendJSON(models.ServerMessage{Type: models.MsgTrade, Data: []models.Tick{{Symbol: "AAPL", Price: 180}}})
	c.SendBytes([]byte(`{"type":"ping"}`))
	c.Close()
}
