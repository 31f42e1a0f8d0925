package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bibliome/atproto-oauth/syntax"
	"github.com/bibliome/atproto-oauth/util/ssrf"

	"golang.org/x/time/rate"
)

// Indicates that handle resolution completed but found no DID, via either
// the well-known route or the directory fallback.
var ErrHandleNotFound = errors.New("handle not found")

// Indicates that the DID does not exist.
var ErrDIDNotFound = errors.New("DID not found")

// Indicates that the DID resolution process failed. A wrapped error may
// provide more context.
var ErrDIDResolutionFailed = errors.New("DID resolution failed")

// Indicates a DID method other than plc or web.
var ErrUnsupportedDIDMethod = errors.New("unsupported DID method")

// Indicates that the DID document declared no usable hosting service entry.
var ErrServiceNotDeclared = errors.New("DID document did not declare a hosting service")

// Indicates that the resolved DID document does not claim the handle which
// led to it.
var ErrHandleMismatch = errors.New("handle not declared in DID document")

var DefaultPLCURL = "https://plc.directory"
var DefaultDirectoryURL = "https://public.api.bsky.app"

// HTTPClient is the outbound request surface the resolver depends on. In
// production this is an SSRF-guarded [ssrf.SafeClient]; tests can substitute
// any transport.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Identity is the result of a full handle lookup: the account's DID and the
// hosting server holding its data.
type Identity struct {
	DID         syntax.DID
	Handle      syntax.Handle
	PDSEndpoint string
}

// Resolver performs live identity resolution. The zero value is not usable;
// construct with [NewResolver].
type Resolver struct {
	// Client is used for all resolution fetches.
	Client HTTPClient

	// PLCURL has scheme, hostname, and optional port; no path or trailing slash.
	PLCURL string

	// DirectoryURL is the fallback host for handle resolution when the
	// well-known route fails.
	DirectoryURL string

	// If not nil, rate-limits requests to the PLC directory.
	PLCLimiter *rate.Limiter
}

func NewResolver(client HTTPClient) *Resolver {
	if client == nil {
		client = ssrf.NewSafeClient()
	}
	return &Resolver{
		Client:       client,
		PLCURL:       DefaultPLCURL,
		DirectoryURL: DefaultDirectoryURL,
	}
}

// LookupHandle runs the full resolution chain: handle to DID, DID to
// document, document to hosting endpoint. It verifies that the document
// claims the handle before trusting the service list.
func (r *Resolver) LookupHandle(ctx context.Context, handle syntax.Handle) (*Identity, error) {
	handle = handle.Normalize()

	did, err := r.ResolveHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	doc, err := r.ResolveDID(ctx, did)
	if err != nil {
		return nil, err
	}
	if !doc.DeclaresHandle(handle) {
		return nil, fmt.Errorf("%w: %s not claimed by %s", ErrHandleMismatch, handle, did)
	}
	pds, err := doc.PDSEndpoint()
	if err != nil {
		return nil, err
	}
	return &Identity{DID: did, Handle: handle, PDSEndpoint: pds}, nil
}

// ResolveHandle resolves a handle to a DID. It first tries the plaintext
// well-known route on the handle's own origin; on any failure there
// (transport error or non-200 alike) it falls back to the public directory.
func (r *Resolver) ResolveHandle(ctx context.Context, handle syntax.Handle) (syntax.DID, error) {
	handle = handle.Normalize()

	start := time.Now()
	did, err := r.resolveHandleWellKnown(ctx, handle)
	if err == nil {
		handleResolution.WithLabelValues("wellknown", "success").Inc()
		handleResolutionDuration.WithLabelValues("wellknown", "success").Observe(time.Since(start).Seconds())
		return did, nil
	}
	handleResolution.WithLabelValues("wellknown", "error").Inc()

	start = time.Now()
	did, err = r.resolveHandleDirectory(ctx, handle)
	if err != nil {
		handleResolution.WithLabelValues("directory", "error").Inc()
		return "", fmt.Errorf("%w: %s: %w", ErrHandleNotFound, handle, err)
	}
	handleResolution.WithLabelValues("directory", "success").Inc()
	handleResolutionDuration.WithLabelValues("directory", "success").Observe(time.Since(start).Seconds())
	return did, nil
}

func (r *Resolver) resolveHandleWellKnown(ctx context.Context, handle syntax.Handle) (syntax.DID, error) {
	u := fmt.Sprintf("https://%s/.well-known/atproto-did", handle)
	resp, err := r.get(ctx, u)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return "", fmt.Errorf("well-known handle resolution failed (%s): status=%d", u, resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if err != nil {
		return "", fmt.Errorf("well-known handle resolution failed (%s): %w", u, err)
	}
	return syntax.ParseDID(strings.TrimSpace(string(b)))
}

func (r *Resolver) resolveHandleDirectory(ctx context.Context, handle syntax.Handle) (syntax.DID, error) {
	u := fmt.Sprintf("%s/xrpc/com.atproto.identity.resolveHandle?handle=%s", r.DirectoryURL, url.QueryEscape(handle.String()))
	resp, err := r.get(ctx, u)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return "", fmt.Errorf("directory handle resolution failed (%s): status=%d", u, resp.StatusCode)
	}
	var body struct {
		DID string `json:"did"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("directory handle resolution failed (%s): %w", u, err)
	}
	return syntax.ParseDID(body.DID)
}

// ResolveDID fetches the DID document, dispatching on the DID method.
func (r *Resolver) ResolveDID(ctx context.Context, did syntax.DID) (*DIDDocument, error) {
	start := time.Now()
	var doc *DIDDocument
	var err error
	switch did.Method() {
	case "plc":
		doc, err = r.resolveDIDPLC(ctx, did)
	case "web":
		doc, err = r.resolveDIDWeb(ctx, did)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDIDMethod, did.Method())
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	didResolution.WithLabelValues(did.Method(), status).Inc()
	didResolutionDuration.WithLabelValues(did.Method(), status).Observe(time.Since(start).Seconds())
	return doc, err
}

func (r *Resolver) resolveDIDPLC(ctx context.Context, did syntax.DID) (*DIDDocument, error) {
	if r.PLCLimiter != nil {
		if err := r.PLCLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDIDResolutionFailed, err)
		}
	}
	return r.fetchDIDDocument(ctx, did, r.PLCURL+"/"+did.String())
}

func (r *Resolver) resolveDIDWeb(ctx context.Context, did syntax.DID) (*DIDDocument, error) {
	hostname := did.Identifier()
	if _, err := syntax.ParseHandle(hostname); err != nil {
		return nil, fmt.Errorf("%w: did:web identifier not a simple hostname: %s", ErrDIDResolutionFailed, hostname)
	}
	return r.fetchDIDDocument(ctx, did, "https://"+hostname+"/.well-known/did.json")
}

func (r *Resolver) fetchDIDDocument(ctx context.Context, did syntax.DID, u string) (*DIDDocument, error) {
	resp, err := r.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDIDResolutionFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == 404 {
		return nil, fmt.Errorf("%w: %s", ErrDIDNotFound, did)
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("%w: fetch of %s failed, status=%d", ErrDIDResolutionFailed, u, resp.StatusCode)
	}
	var doc DIDDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: parsing document from %s: %w", ErrDIDResolutionFailed, u, err)
	}
	if doc.DID != did {
		return nil, fmt.Errorf("%w: document id mismatch: %s != %s", ErrDIDResolutionFailed, doc.DID, did)
	}
	return &doc, nil
}

func (r *Resolver) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	return r.Client.Do(req)
}
