package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"chainmail/internal/domain"
	"chainmail/internal/protocol/wire"
)

const defaultTimeout = 15 * time.Second

// HTTP talks to a relay server. It is safe for concurrent use.
type HTTP struct {
	Base string
	HTTP *http.Client
}

func NewHTTP(base string) *HTTP {
	return &HTTP{Base: base, HTTP: &http.Client{Timeout: defaultTimeout}}
}

func (c *HTTP) Publish(ctx context.Context, frame string) (domain.Ref, error) {
	var out publishResponse
	if err := c.sendJSON(ctx, http.MethodPost, "/v1/frames", publishRequest{Frame: frame}, &out); err != nil {
		return "", err
	}
	return out.Ref, nil
}

func (c *HTTP) Poll(ctx context.Context, cursor domain.Cursor) (domain.Batch, error) {
	var out domain.Batch
	path := "/v1/frames?cursor=" + strconv.FormatUint(uint64(cursor), 10)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return domain.Batch{}, err
	}
	return out, nil
}

func (c *HTTP) Confirmations(ctx context.Context, ref domain.Ref) (int, error) {
	var out struct {
		Confirmations int `json:"confirmations"`
	}
	if err := c.getJSON(ctx, "/v1/frames/"+url.PathEscape(ref.String())+"/confirmations", &out); err != nil {
		return 0, err
	}
	return out.Confirmations, nil
}

func (c *HTTP) TimestampOf(ctx context.Context, ref domain.Ref) (int64, error) {
	var out struct {
		Timestamp int64 `json:"timestamp"`
	}
	if err := c.getJSON(ctx, "/v1/frames/"+url.PathEscape(ref.String())+"/timestamp", &out); err != nil {
		return 0, err
	}
	return out.Timestamp, nil
}

func (c *HTTP) Register(ctx context.Context, addr domain.Address, pub domain.PublicKey) error {
	return c.sendJSON(ctx, http.MethodPut, "/v1/identities/"+url.PathEscape(addr.String()),
		registerRequest{PublicKey: pub.Slice()}, nil)
}

func (c *HTTP) Identity(ctx context.Context, addr domain.Address) (domain.IdentityRecord, error) {
	var out domain.IdentityRecord
	if err := c.getJSON(ctx, "/v1/identities/"+url.PathEscape(addr.String()), &out); err != nil {
		return domain.IdentityRecord{}, err
	}
	return out, nil
}

// Packages returns the package directory view of the relay. It is separate
// because domain.Transport already claims the Publish method.
func (c *HTTP) Packages() *Packages { return &Packages{c: c} }

// Packages is the relay's pre-key package directory.
type Packages struct{ c *HTTP }

func (p *Packages) Publish(ctx context.Context, addr domain.Address, pkg domain.PreKeyPackage) error {
	body, err := wire.EncodePackage(pkg)
	if err != nil {
		return err
	}
	resp, err := p.c.do(ctx, http.MethodPut, "/v1/packages/"+url.PathEscape(addr.String()), cborType, bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (p *Packages) Fetch(ctx context.Context, addr domain.Address) (domain.PreKeyPackage, error) {
	resp, err := p.c.do(ctx, http.MethodGet, "/v1/packages/"+url.PathEscape(addr.String()), "", nil)
	if err != nil {
		return domain.PreKeyPackage{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPackageBody))
	if err != nil {
		return domain.PreKeyPackage{}, err
	}
	return wire.DecodePackage(body)
}

func (c *HTTP) sendJSON(ctx context.Context, method, path string, in, out any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	resp, err := c.do(ctx, method, path, "application/json", buf)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *HTTP) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

// do sends a request and turns non-2xx replies into errors. The caller
// closes the body of a successful response.
func (c *HTTP) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 == 2 {
		return resp, nil
	}
	defer resp.Body.Close()

	var e errorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
	err = fmt.Errorf("relay %s %s: %s", method, path, resp.Status)
	if e.Error != "" {
		err = fmt.Errorf("relay %s %s: %s: %s", method, path, resp.Status, e.Error)
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	case http.StatusConflict:
		return nil, fmt.Errorf("%w: %w", domain.ErrAlreadyExists, err)
	case http.StatusGone:
		return nil, fmt.Errorf("%w: %w", domain.ErrRefFailed, err)
	}
	return nil, err
}

var (
	_ domain.Transport         = (*HTTP)(nil)
	_ domain.Clock             = (*HTTP)(nil)
	_ domain.IdentityDirectory = (*HTTP)(nil)
	_ domain.PackageDirectory  = (*Packages)(nil)
)
