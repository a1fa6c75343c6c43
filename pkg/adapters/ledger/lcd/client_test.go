package lcd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/runnerd/internal/application/txpipeline"
	"github.com/aescanero/runnerd/internal/domain"
	"github.com/aescanero/runnerd/internal/ports"
	"github.com/aescanero/runnerd/pkg/adapters/keyring"
	"github.com/aescanero/runnerd/pkg/adapters/ledger/memory"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// fakeNode serves the LCD routes on top of an in-memory ledger.
func fakeNode(t *testing.T, ledger *memory.InMemoryLedger) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()

	r.GET("/node_info", func(c *gin.Context) {
		chainID, _ := ledger.ChainID(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"node_info": gin.H{"network": chainID}})
	})
	r.GET("/auth/accounts/:address", func(c *gin.Context) {
		acc, err := ledger.Account(c.Request.Context(), c.Param("address"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"height": "1", "result": gin.H{"type": "cosmos-sdk/Account", "value": acc}})
	})
	r.POST("/txs", func(c *gin.Context) {
		var req broadcastRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := ledger.Broadcast(c.Request.Context(), req.Tx, domain.Commitment(req.Mode))
		var rejected *domain.RejectedTxError
		switch {
		case errors.As(err, &rejected):
			c.JSON(http.StatusOK, gin.H{
				"height":    strconv.FormatInt(rejected.Height, 10),
				"txhash":    rejected.TxHash,
				"code":      rejected.Code,
				"codespace": rejected.Codespace,
				"raw_log":   rejected.Log,
			})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{
				"height": result.Height,
				"txhash": result.TxHash,
				"logs":   []gin.H{{"msg_index": 0, "events": result.Events}},
			})
		}
	})
	r.GET("/service/get/:hash", func(c *gin.Context) {
		s, err := ledger.GetService(c.Request.Context(), c.Param("hash"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"height": "1", "result": s})
	})
	r.GET("/runner/get/:hash", func(c *gin.Context) {
		run, err := ledger.GetRunner(c.Request.Context(), c.Param("hash"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"height": "1", "result": run})
	})
	r.GET("/process/get/:hash", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"height": "1", "result": nil})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newPipeline(t *testing.T, client *Client) *txpipeline.Pipeline {
	t.Helper()
	kr, err := keyring.New("mesgtest", keyring.DefaultPath)
	require.NoError(t, err)
	return txpipeline.NewPipeline(client, kr, txpipeline.Config{}, ports.NopMetrics{}, zap.NewNop())
}

func TestClientChainIDIsCached(t *testing.T) {
	ledger := memory.NewInMemoryLedger("mesg-lcd", "mesgtest")
	srv := fakeNode(t, ledger)
	client := NewClient(srv.URL+"/", 5*time.Second, zap.NewNop())

	chainID, err := client.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mesg-lcd", chainID)

	srv.Close()
	chainID, err = client.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mesg-lcd", chainID)
}

func TestClientSignedRoundTripThroughNode(t *testing.T) {
	ledger := memory.NewInMemoryLedger("mesg-lcd", "mesgtest")
	srv := fakeNode(t, ledger)
	client := NewClient(srv.URL, 5*time.Second, zap.NewNop())
	pipeline := newPipeline(t, client)
	ctx := context.Background()

	session, err := pipeline.Open(ctx, testMnemonic)
	require.NoError(t, err)
	defer session.Close()

	result, err := pipeline.Submit(ctx, session, []domain.Msg{{
		Type: domain.MsgTypeCreateService,
		Value: domain.CreateServiceMsg{
			Owner: session.Address(),
			Request: domain.ServiceDefinition{
				Sid:    "echo",
				Name:   "Echo <service>",
				Source: "QmSource",
				Tasks:  []domain.Task{{Key: "ping", Inputs: []domain.Parameter{{Key: "msg", Type: "String"}}}},
			},
		},
	}}, domain.CommitmentBlock)
	require.NoError(t, err)

	hash, err := txpipeline.SingleHash(result, domain.ModuleService, domain.ActionCreateService)
	require.NoError(t, err)

	srv2, err := client.GetService(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "Echo <service>", srv2.Name)
	assert.Equal(t, session.Address(), srv2.Owner)

	acc, err := client.Account(ctx, session.Address())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), acc.Sequence)
}

func TestClientReportsRejection(t *testing.T) {
	ledger := memory.NewInMemoryLedger("mesg-lcd", "mesgtest")
	srv := fakeNode(t, ledger)
	client := NewClient(srv.URL, 5*time.Second, zap.NewNop())
	pipeline := newPipeline(t, client)
	ctx := context.Background()

	session, err := pipeline.Open(ctx, testMnemonic)
	require.NoError(t, err)
	defer session.Close()

	_, err = pipeline.Submit(ctx, session, []domain.Msg{{
		Type:  domain.MsgTypeDeleteService,
		Value: domain.DeleteMsg{Owner: session.Address(), Hash: "nope"},
	}}, domain.CommitmentBlock)

	var rejected *domain.RejectedTxError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, memory.CodeNotFound, rejected.Code)
	assert.Equal(t, "sdk", rejected.Codespace)
	assert.NotEmpty(t, rejected.Log)

	// The failed tx was included, so the next one must use the next sequence.
	assert.Equal(t, int64(1), rejected.Height)
	assert.Equal(t, uint64(1), session.Sequence())
	acc, err := client.Account(ctx, session.Address())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), acc.Sequence)

	_, err = pipeline.Submit(ctx, session, []domain.Msg{{
		Type: domain.MsgTypeCreateService,
		Value: domain.CreateServiceMsg{
			Owner:   session.Address(),
			Request: domain.ServiceDefinition{Sid: "echo", Name: "echo", Source: "QmSource"},
		},
	}}, domain.CommitmentBlock)
	require.NoError(t, err)
}

func TestClientSyncBroadcastCarriesNoEvents(t *testing.T) {
	ledger := memory.NewInMemoryLedger("mesg-lcd", "mesgtest")
	srv := fakeNode(t, ledger)
	client := NewClient(srv.URL, 5*time.Second, zap.NewNop())
	pipeline := newPipeline(t, client)
	ctx := context.Background()

	session, err := pipeline.Open(ctx, testMnemonic)
	require.NoError(t, err)
	defer session.Close()

	result, err := pipeline.Submit(ctx, session, []domain.Msg{{
		Type: domain.MsgTypeCreateService,
		Value: domain.CreateServiceMsg{
			Owner:   session.Address(),
			Request: domain.ServiceDefinition{Sid: "echo", Name: "echo", Source: "QmSource"},
		},
	}}, domain.CommitmentSync)
	require.NoError(t, err)
	assert.Equal(t, "0", result.Height)
	assert.NotEmpty(t, result.TxHash)

	_, err = txpipeline.SingleHash(result, domain.ModuleService, domain.ActionCreateService)
	var amb *domain.AmbiguousResultError
	require.ErrorAs(t, err, &amb)
	assert.Equal(t, 0, amb.Count)
}

func TestClientNotFound(t *testing.T) {
	ledger := memory.NewInMemoryLedger("mesg-lcd", "mesgtest")
	srv := fakeNode(t, ledger)
	client := NewClient(srv.URL, 5*time.Second, zap.NewNop())
	ctx := context.Background()

	_, err := client.GetRunner(ctx, "missing")
	assert.True(t, IsNotFound(err))

	_, err = client.GetService(ctx, "missing")
	assert.True(t, IsNotFound(err))

	_, err = client.GetProcess(ctx, "missing")
	assert.True(t, IsNotFound(err))
}

func TestClientNetworkError(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", time.Second, zap.NewNop())

	_, err := client.ChainID(context.Background())
	var netErr *domain.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "node_info", netErr.Op)

	_, err = client.Broadcast(context.Background(), domain.StdTx{}, domain.CommitmentSync)
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "broadcast", netErr.Op)
}
