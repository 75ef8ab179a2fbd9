package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	mediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
	mediaTypeDockerManifest     = "application/vnd.docker.distribution.manifest.v2+json"
	mediaTypeOCIIndex           = "application/vnd.oci.image.index.v1+json"
	mediaTypeOCIManifest        = "application/vnd.oci.image.manifest.v1+json"

	contentDigestHeader = "Docker-Content-Digest"

	// docker.io is an alias; the actual v2 endpoint lives elsewhere.
	dockerHubRegistry = "registry-1.docker.io"

	maxManifestBody = 4 << 20
)

// ErrRateLimited is returned while the client backs off after the registry
// answered 429.
var ErrRateLimited = errors.New("registry rate limit reached")

// RemoteImage is what a resolve yields: the manifest digest the runtime
// compares against, and the image creation time (display only).
type RemoteImage struct {
	Digest  string    `json:"digest"`
	Created time.Time `json:"created"`
}

// Client resolves a tag on registries it can handle.
type Client interface {
	CanHandle(registry string) bool
	Resolve(ctx context.Context, ref Reference, architecture string) (RemoteImage, error)
}

// OCIClient implements the distribution protocol against any conforming
// registry, handling anonymous access and bearer-token challenges.
type OCIClient struct {
	log  *logrus.Entry
	http *http.Client

	// endpointFor maps a registry host to its v2 base URL; tests point it
	// at a local server.
	endpointFor func(host string) string

	mu             sync.Mutex
	rateLimitUntil time.Time
	tokens         map[string]string
}

func NewOCIClient(log *logrus.Entry) *OCIClient {
	return &OCIClient{
		log:         log,
		http:        &http.Client{Timeout: 30 * time.Second},
		endpointFor: func(host string) string { return "https://" + host },
		tokens:      make(map[string]string),
	}
}

// CanHandle is true for every registry; OCIClient is the generic fallback.
func (c *OCIClient) CanHandle(string) bool { return true }

// Resolve fetches the manifest digest and creation time for ref at the
// given architecture.
func (c *OCIClient) Resolve(ctx context.Context, ref Reference, architecture string) (RemoteImage, error) {
	if c.isRateLimited() {
		return RemoteImage{}, ErrRateLimited
	}

	host := ref.Registry
	if host == DefaultRegistry {
		host = dockerHubRegistry
	}
	manifestURL := fmt.Sprintf("%s/v2/%s/manifests/%s", c.endpointFor(host), ref.Repository, ref.Tag)

	body, headers, err := c.get(ctx, ref, manifestURL, acceptManifests())
	if err != nil {
		return RemoteImage{}, err
	}

	// The content digest of the tag's top-level response is what the local
	// runtime stores too, whether the image is single- or multi-arch.
	digest := headers.Get(contentDigestHeader)
	if digest == "" {
		return RemoteImage{}, fmt.Errorf("registry %s returned no content digest", ref.Registry)
	}

	configDigest, err := c.configDigest(ctx, ref, host, body, architecture)
	if err != nil {
		return RemoteImage{}, err
	}

	created, err := c.imageCreated(ctx, ref, host, configDigest)
	if err != nil {
		// Creation time is display-only; a digest without it is still a
		// usable answer.
		c.log.WithError(err).WithField("image", ref.FullName).Debug("could not read image config blob")
	}

	return RemoteImage{Digest: digest, Created: created}, nil
}

type manifestEnvelope struct {
	MediaType string `json:"mediaType"`
	Config    struct {
		Digest string `json:"digest"`
	} `json:"config"`
	Manifests []struct {
		Digest   string `json:"digest"`
		Platform struct {
			Architecture string `json:"architecture"`
			OS           string `json:"os"`
		} `json:"platform"`
	} `json:"manifests"`
}

func (c *OCIClient) configDigest(ctx context.Context, ref Reference, host string, body []byte, architecture string) (string, error) {
	var envelope manifestEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", fmt.Errorf("parse manifest for %s: %w", ref.FullName, err)
	}

	if len(envelope.Manifests) == 0 {
		if envelope.Config.Digest == "" {
			return "", fmt.Errorf("manifest for %s has no config digest", ref.FullName)
		}
		return envelope.Config.Digest, nil
	}

	// Manifest list: prefer an exact linux match for the architecture, then
	// any entry with the right architecture.
	selected := ""
	for _, m := range envelope.Manifests {
		if m.Platform.Architecture != architecture {
			continue
		}
		if m.Platform.OS == "linux" || m.Platform.OS == "" {
			selected = m.Digest
			break
		}
		if selected == "" {
			selected = m.Digest
		}
	}
	if selected == "" {
		return "", fmt.Errorf("no %s manifest for %s", architecture, ref.FullName)
	}

	manifestURL := fmt.Sprintf("%s/v2/%s/manifests/%s", c.endpointFor(host), ref.Repository, selected)
	archBody, _, err := c.get(ctx, ref, manifestURL, acceptManifests())
	if err != nil {
		return "", err
	}
	var archManifest manifestEnvelope
	if err := json.Unmarshal(archBody, &archManifest); err != nil {
		return "", fmt.Errorf("parse %s manifest for %s: %w", architecture, ref.FullName, err)
	}
	if archManifest.Config.Digest == "" {
		return "", fmt.Errorf("%s manifest for %s has no config digest", architecture, ref.FullName)
	}
	return archManifest.Config.Digest, nil
}

func (c *OCIClient) imageCreated(ctx context.Context, ref Reference, host, configDigest string) (time.Time, error) {
	if configDigest == "" {
		return time.Time{}, errors.New("no config digest")
	}
	blobURL := fmt.Sprintf("%s/v2/%s/blobs/%s", c.endpointFor(host), ref.Repository, configDigest)
	body, _, err := c.get(ctx, ref, blobURL, "")
	if err != nil {
		return time.Time{}, err
	}
	var config struct {
		Created time.Time `json:"created"`
	}
	if err := json.Unmarshal(body, &config); err != nil {
		return time.Time{}, fmt.Errorf("parse image config: %w", err)
	}
	return config.Created, nil
}

// get performs a registry GET, retrying once with a bearer token when the
// registry answers the anonymous request with a challenge.
func (c *OCIClient) get(ctx context.Context, ref Reference, rawURL, accept string) ([]byte, http.Header, error) {
	token := c.cachedToken(ref)
	body, headers, status, challenge, err := c.do(ctx, rawURL, accept, token)
	if err != nil {
		return nil, nil, err
	}
	if status == http.StatusOK {
		return body, headers, nil
	}
	if status == http.StatusTooManyRequests {
		c.setRateLimited(time.Hour)
		return nil, nil, ErrRateLimited
	}
	if status != http.StatusUnauthorized || challenge == "" {
		return nil, nil, fmt.Errorf("registry returned %d for %s", status, rawURL)
	}

	token, err = c.fetchToken(ctx, ref, challenge)
	if err != nil {
		return nil, nil, err
	}
	body, headers, status, _, err = c.do(ctx, rawURL, accept, token)
	if err != nil {
		return nil, nil, err
	}
	if status == http.StatusTooManyRequests {
		c.setRateLimited(time.Hour)
		return nil, nil, ErrRateLimited
	}
	if status != http.StatusOK {
		return nil, nil, fmt.Errorf("registry returned %d for %s after auth", status, rawURL)
	}
	return body, headers, nil
}

func (c *OCIClient) do(ctx context.Context, rawURL, accept, token string) (body []byte, headers http.Header, status int, challenge string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, 0, "", err
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, 0, "", fmt.Errorf("registry request %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBody))
	if err != nil {
		return nil, nil, 0, "", fmt.Errorf("read registry response: %w", err)
	}
	return data, resp.Header, resp.StatusCode, resp.Header.Get("WWW-Authenticate"), nil
}

// fetchToken turns a "Bearer realm=…,service=…,scope=…" challenge into an
// access token. Scope defaults to pull on the repository when the
// challenge omits it.
func (c *OCIClient) fetchToken(ctx context.Context, ref Reference, challenge string) (string, error) {
	params := parseBearerChallenge(challenge)
	realm := params["realm"]
	if realm == "" {
		return "", fmt.Errorf("unsupported auth challenge %q", challenge)
	}
	scope := params["scope"]
	if scope == "" {
		scope = fmt.Sprintf("repository:%s:pull", ref.Repository)
	}

	tokenURL, err := url.Parse(realm)
	if err != nil {
		return "", fmt.Errorf("parse auth realm: %w", err)
	}
	query := tokenURL.Query()
	if service := params["service"]; service != "" {
		query.Set("service", service)
	}
	query.Set("scope", scope)
	tokenURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		c.setRateLimited(time.Hour)
		return "", ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var payload struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("parse token response: %w", err)
	}
	token := payload.Token
	if token == "" {
		token = payload.AccessToken
	}
	if token == "" {
		return "", errors.New("token endpoint returned no token")
	}

	c.mu.Lock()
	c.tokens[ref.Registry+"/"+ref.Repository] = token
	c.mu.Unlock()
	return token, nil
}

func (c *OCIClient) cachedToken(ref Reference) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens[ref.Registry+"/"+ref.Repository]
}

func (c *OCIClient) setRateLimited(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	until := time.Now().Add(d)
	if until.After(c.rateLimitUntil) {
		c.rateLimitUntil = until
		c.log.WithField("until", until).Warn("registry rate limit reached, pausing remote checks")
	}
}

func (c *OCIClient) isRateLimited() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Before(c.rateLimitUntil)
}

// parseBearerChallenge extracts the k="v" parameters from a
// WWW-Authenticate Bearer challenge.
func parseBearerChallenge(challenge string) map[string]string {
	params := make(map[string]string)
	challenge = strings.TrimSpace(challenge)
	if rest, ok := strings.CutPrefix(challenge, "Bearer "); ok {
		challenge = rest
	}
	for _, part := range strings.Split(challenge, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		params[strings.ToLower(key)] = strings.Trim(value, `"`)
	}
	return params
}

func acceptManifests() string {
	return strings.Join([]string{
		mediaTypeDockerManifestList,
		mediaTypeDockerManifest,
		mediaTypeOCIIndex,
		mediaTypeOCIManifest,
	}, ", ")
}
