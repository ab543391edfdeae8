// Package fullnode talks to an untrusted full node over its wallet-facing
// REST API and its public event feed.
package fullnode

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"

	"github.com/darwayne/utxo-ledger/internal/core/storage"
	"github.com/darwayne/utxo-ledger/pkg/txcodec"
)

// Opts configures a Client. BaseURL is required; everything else has a
// default.
type Opts struct {
	BaseURL    string
	HTTPClient *http.Client
	// SOCKS5 proxy, optional.
	ProxyAddr string
	ProxyUser string
	ProxyPass string
	// Timeout applies per request. Defaults to 30s.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Client is the REST full-node client.
type Client struct {
	cli *resty.Client
	log *zap.Logger
}

// New builds a client from explicit options.
func New(opts Opts) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("base url required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	cli := resty.New()
	switch {
	case opts.HTTPClient != nil:
		cli = resty.NewWithClient(opts.HTTPClient)
	case opts.ProxyAddr != "":
		var auth *proxy.Auth
		if opts.ProxyUser != "" {
			auth = &proxy.Auth{User: opts.ProxyUser, Password: opts.ProxyPass}
		}
		dialer, err := proxy.SOCKS5("tcp", opts.ProxyAddr, auth, proxy.Direct)
		if err != nil {
			return nil, errors.Wrap(err, "error creating socks5 dialer")
		}
		transport := &http.Transport{
			DialContext: func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			},
		}
		cli = resty.NewWithClient(&http.Client{Transport: transport})
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cli.SetBaseURL(strings.TrimRight(opts.BaseURL, "/"))
	cli.SetTimeout(timeout)

	return &Client{cli: cli, log: log}, nil
}

// HistoryPage is one page of paginated address history.
type HistoryPage struct {
	Success      bool                 `json:"success"`
	Message      string               `json:"message"`
	History      []*storage.HistoryTx `json:"history"`
	HasMore      bool                 `json:"has_more"`
	FirstHash    string               `json:"first_hash"`
	FirstAddress string               `json:"first_address"`
}

// GetAddressHistory fetches one page of history for a set of addresses.
// Pass the previous page's FirstHash/FirstAddress cursor to continue.
func (c *Client) GetAddressHistory(ctx context.Context, addresses []string, firstHash, firstAddress string) (*HistoryPage, error) {
	params := map[string]string{
		"addresses": strings.Join(addresses, ","),
	}
	if firstHash != "" {
		params["first_hash"] = firstHash
	}
	if firstAddress != "" {
		params["first_address"] = firstAddress
	}
	var page HistoryPage
	_, err := c.cli.R().
		SetContext(ctx).
		SetResult(&page).
		SetQueryParams(params).
		Get("thin_wallet/address_history")
	if err != nil {
		return nil, errors.Wrap(err, "error fetching address history")
	}
	if !page.Success {
		return nil, errors.Errorf("address history request rejected: %s", page.Message)
	}
	return &page, nil
}

type tokenInfoResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

// GetTokenInfo resolves the registered name and symbol of a token uid.
func (c *Client) GetTokenInfo(ctx context.Context, uid string) (*storage.TokenConfig, error) {
	var resp tokenInfoResponse
	_, err := c.cli.R().
		SetContext(ctx).
		SetResult(&resp).
		SetQueryParam("id", uid).
		Get("thin_wallet/token")
	if err != nil {
		return nil, errors.Wrapf(err, "error fetching token %s", uid)
	}
	if !resp.Success {
		return nil, errors.Errorf("token request rejected: %s", resp.Message)
	}
	return &storage.TokenConfig{UID: uid, Name: resp.Name, Symbol: resp.Symbol}, nil
}

type subscribeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SubscribeAddresses registers addresses for live updates on the node.
func (c *Client) SubscribeAddresses(ctx context.Context, addresses []string) error {
	var resp subscribeResponse
	_, err := c.cli.R().
		SetContext(ctx).
		SetResult(&resp).
		SetBody(map[string][]string{"addresses": addresses}).
		Post("thin_wallet/address_subscribe")
	if err != nil {
		return errors.Wrap(err, "error subscribing addresses")
	}
	if !resp.Success {
		return errors.Errorf("subscribe rejected: %s", resp.Message)
	}
	return nil
}

type versionResponse struct {
	Version string `json:"version"`
	Network string `json:"network"`
	txcodec.Params
}

// GetParams performs the version handshake and returns the network
// operating constants.
func (c *Client) GetParams(ctx context.Context) (*txcodec.Params, error) {
	var resp versionResponse
	_, err := c.cli.R().
		SetContext(ctx).
		SetResult(&resp).
		Get("version")
	if err != nil {
		return nil, errors.Wrap(err, "error fetching version data")
	}
	c.log.Debug("version handshake",
		zap.String("version", resp.Version),
		zap.String("network", resp.Network))
	return &resp.Params, nil
}

type heightResponse struct {
	Height uint32 `json:"height"`
}

// GetCurrentHeight returns the node's best-chain height.
func (c *Client) GetCurrentHeight(ctx context.Context) (uint32, error) {
	var resp heightResponse
	_, err := c.cli.R().
		SetContext(ctx).
		SetResult(&resp).
		Get("best_chain_height")
	if err != nil {
		return 0, errors.Wrap(err, "error fetching best height")
	}
	return resp.Height, nil
}

type pushTxResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// PushTx broadcasts a fully-signed, mined transaction.
func (c *Client) PushTx(ctx context.Context, txHex string) error {
	var resp pushTxResponse
	_, err := c.cli.R().
		SetContext(ctx).
		SetResult(&resp).
		SetBody(map[string]string{"hex_tx": txHex}).
		Post("push_tx")
	if err != nil {
		return errors.Wrap(err, "error pushing transaction")
	}
	if !resp.Success {
		return errors.Errorf("push rejected: %s", resp.Message)
	}
	return nil
}

// MiningJob is the state of a proof-of-work job on the mining service.
type MiningJob struct {
	JobID     string   `json:"job_id"`
	Status    string   `json:"status"`
	Nonce     uint32   `json:"nonce"`
	Timestamp uint32   `json:"timestamp"`
	Parents   []string `json:"parents"`
	Message   string   `json:"message"`
}

// Mining job statuses.
const (
	JobStatusPending = "pending"
	JobStatusMining  = "mining"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
)

// SubmitJob submits a signed transaction for proof-of-work resolution.
func (c *Client) SubmitJob(ctx context.Context, txHex string) (*MiningJob, error) {
	var job MiningJob
	_, err := c.cli.R().
		SetContext(ctx).
		SetResult(&job).
		SetBody(map[string]string{"tx": txHex}).
		Post("submit_job")
	if err != nil {
		return nil, errors.Wrap(err, "error submitting mining job")
	}
	return &job, nil
}

// GetJobStatus polls a previously submitted mining job.
func (c *Client) GetJobStatus(ctx context.Context, jobID string) (*MiningJob, error) {
	var job MiningJob
	_, err := c.cli.R().
		SetContext(ctx).
		SetResult(&job).
		SetQueryParam("job-id", jobID).
		Get("job_status")
	if err != nil {
		return nil, errors.Wrapf(err, "error polling job %s", jobID)
	}
	return &job, nil
}

// IsTimeout classifies transient network timeouts eligible for retry.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
