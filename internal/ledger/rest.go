// rest.go - REST ledger adapter.
//
// JSON-over-HTTP client for a ledger node exposing the endpoints the Client
// interface needs. The wire shapes here are shared with the simulator's
// server so the two cannot drift apart.

package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Wire shapes for the REST endpoints.
type (
	SubmitRequest struct {
		Transaction string `json:"transaction"` // base64 of Transaction.Encode()
	}
	SubmitResponse struct {
		TxID  string `json:"txid"`
		Error string `json:"error,omitempty"`
	}
	ConfirmationResponse struct {
		Known     bool   `json:"known"`
		Confirmed bool   `json:"confirmed"`
		Error     string `json:"error,omitempty"`
	}
	AccountResponse struct {
		Funding uint64 `json:"funding"`
		Data    string `json:"data"` // base64
	}
	RentResponse struct {
		Funding uint64 `json:"funding"`
	}
)

// defaultConfirmTimeout bounds AwaitConfirmation when the caller's context
// carries no deadline.
const defaultConfirmTimeout = 30 * time.Second

// RestClient implements Client against a REST ledger endpoint.
type RestClient struct {
	endpoint string
	http     *http.Client
	logger   *zap.Logger
}

// NewRestClient returns a client for the given endpoint, e.g.
// "http://127.0.0.1:8899".
func NewRestClient(endpoint string, logger *zap.Logger) *RestClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RestClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 15 * time.Second},
		logger:   logger,
	}
}

var _ Client = (*RestClient)(nil)

// Submit posts the transaction and returns its id.
func (c *RestClient) Submit(ctx context.Context, tx *Transaction) (TxID, error) {
	body, err := json.Marshal(SubmitRequest{
		Transaction: base64.StdEncoding.EncodeToString(tx.Encode()),
	})
	if err != nil {
		return "", errors.Wrap(err, "submit encode")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/submit", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "submit request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrapf(ErrTransport, "submit: %v", err)
	}
	defer resp.Body.Close()
	var out SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrapf(ErrTransport, "submit decode: %v", err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return TxID(out.TxID), nil
	case http.StatusRequestEntityTooLarge:
		return "", ErrTransactionTooLarge
	default:
		return "", errors.Wrap(ErrRejected, out.Error)
	}
}

// AwaitConfirmation polls the node until the transaction is confirmed,
// rejected, or the (implicit) timeout elapses.
func (c *RestClient) AwaitConfirmation(ctx context.Context, id TxID) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultConfirmTimeout)
		defer cancel()
	}
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		status, err := c.confirmation(ctx, id)
		if err != nil {
			return err
		}
		if status.Known {
			if status.Confirmed {
				return nil
			}
			return errors.Wrap(ErrRejected, status.Error)
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(ErrTimeout, "transaction %s", id)
		case <-ticker.C:
		}
	}
}

func (c *RestClient) confirmation(ctx context.Context, id TxID) (*ConfirmationResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/confirmation?id=%s", c.endpoint, id), nil)
	if err != nil {
		return nil, errors.Wrap(err, "confirmation request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ErrTransport, "confirmation: %v", err)
	}
	defer resp.Body.Close()
	var out ConfirmationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrapf(ErrTransport, "confirmation decode: %v", err)
	}
	return &out, nil
}

// ReadAccount fetches the raw bytes of an account record.
func (c *RestClient) ReadAccount(ctx context.Context, addr Address) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/account?address=%s", c.endpoint, addr), nil)
	if err != nil {
		return nil, errors.Wrap(err, "account request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ErrTransport, "read account: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil, ErrAccountNotFound
	}
	var out AccountResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrapf(ErrTransport, "account decode: %v", err)
	}
	return base64.StdEncoding.DecodeString(out.Data)
}

// MinimumPersistenceFunding asks the node what it costs to keep sizeInBytes
// resident.
func (c *RestClient) MinimumPersistenceFunding(ctx context.Context, sizeInBytes uint64) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/rent?size=%d", c.endpoint, sizeInBytes), nil)
	if err != nil {
		return 0, errors.Wrap(err, "rent request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, errors.Wrapf(ErrTransport, "rent: %v", err)
	}
	defer resp.Body.Close()
	var out RentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, errors.Wrapf(ErrTransport, "rent decode: %v", err)
	}
	return out.Funding, nil
}
