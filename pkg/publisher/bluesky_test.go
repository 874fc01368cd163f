package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpunion/quote-bot/pkg/httpclient"
	"github.com/cpunion/quote-bot/pkg/logging"
	"github.com/cpunion/quote-bot/pkg/types"
)

// fakePDS is a minimal XRPC server for sessions and record storage. Records
// are keyed by rkey; a create for an existing rkey is rejected.
type fakePDS struct {
	mu             sync.Mutex
	logins         int
	creates        int
	expireFirst    bool
	badPassword    bool
	failAfterStore int  // creates answered with 502 after the record is stored
	failCreates    bool // every create answered with 502, nothing stored
	records        []map[string]any
	byKey          map[string]map[string]any
	auths          []string
}

func (f *fakePDS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case "/xrpc/com.atproto.server.createSession":
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		if f.badPassword || in["password"] != "app-pass" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"AuthenticationRequired","message":"Invalid identifier or password"}`))
			return
		}
		f.logins++
		_ = json.NewEncoder(w).Encode(map[string]string{
			"accessJwt":  "access-token",
			"refreshJwt": "refresh-token",
			"handle":     in["identifier"],
			"did":        "did:plc:larry",
		})
	case "/xrpc/com.atproto.repo.createRecord":
		f.creates++
		f.auths = append(f.auths, r.Header.Get("Authorization"))
		if f.expireFirst && f.creates == 1 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"ExpiredToken","message":"Token has expired"}`))
			return
		}
		if f.failCreates {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var in map[string]any
		_ = json.NewDecoder(r.Body).Decode(&in)
		rkey, _ := in["rkey"].(string)
		if _, ok := f.byKey[rkey]; ok {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"InvalidRequest","message":"Record already exists"}`))
			return
		}
		if f.byKey == nil {
			f.byKey = map[string]map[string]any{}
		}
		f.byKey[rkey] = in
		f.records = append(f.records, in)
		if f.failAfterStore > 0 {
			f.failAfterStore--
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"uri": "at://did:plc:larry/app.bsky.feed.post/" + rkey,
			"cid": "bafyreib",
		})
	case "/xrpc/com.atproto.repo.getRecord":
		rkey := r.URL.Query().Get("rkey")
		if _, ok := f.byKey[rkey]; !ok || r.URL.Query().Get("collection") != "app.bsky.feed.post" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"RecordNotFound","message":"Could not locate record"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"uri":   "at://did:plc:larry/app.bsky.feed.post/" + rkey,
			"cid":   "bafyreib",
			"value": f.byKey[rkey]["record"],
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newBluesky(t *testing.T, pds *fakePDS, password string) *Bluesky {
	t.Helper()
	srv := httptest.NewServer(pds)
	t.Cleanup(srv.Close)
	return NewBluesky(BlueskyConfig{
		Host:        srv.URL,
		Handle:      "larry.bsky.social",
		AppPassword: password,
		HTTPClient:  srv.Client(),
		Logger:      logging.Discard(),
	})
}

// newRetryingBluesky uses the production retrying client over the fake PDS.
func newRetryingBluesky(t *testing.T, pds *fakePDS) *Bluesky {
	t.Helper()
	srv := httptest.NewServer(pds)
	t.Cleanup(srv.Close)
	return NewBluesky(BlueskyConfig{
		Host:        srv.URL,
		Handle:      "larry.bsky.social",
		AppPassword: "app-pass",
		HTTPClient: httpclient.New(httpclient.Config{
			Timeout:      5 * time.Second,
			RetryMax:     2,
			RetryWaitMin: time.Millisecond,
			RetryWaitMax: time.Millisecond,
			Base:         srv.Client(),
		}),
		Logger: logging.Discard(),
	})
}

func TestBluesky_LoginAndPublish(t *testing.T) {
	pds := &fakePDS{}
	b := newBluesky(t, pds, "app-pass")
	ctx := context.Background()

	require.NoError(t, b.Login(ctx))
	ref, err := b.Publish(ctx, "Read this https://example.com/a?b=c. Or don't.")
	require.NoError(t, err)

	require.Len(t, pds.records, 1)
	in := pds.records[0]
	rkey, _ := in["rkey"].(string)
	require.Len(t, rkey, 13, "record key is a TID")

	assert.Equal(t, "at://did:plc:larry/app.bsky.feed.post/"+rkey, ref.ID)
	assert.Equal(t, "bafyreib", ref.CID)
	assert.Equal(t, "https://bsky.app/profile/did:plc:larry/post/"+rkey, ref.URL)
	assert.Equal(t, 1, pds.logins)
	assert.Equal(t, []string{"Bearer access-token"}, pds.auths)

	assert.Equal(t, "app.bsky.feed.post", in["collection"])
	assert.Equal(t, "did:plc:larry", in["repo"])
	record := in["record"].(map[string]any)
	assert.Equal(t, "app.bsky.feed.post", record["$type"])
	assert.Equal(t, "Read this https://example.com/a?b=c. Or don't.", record["text"])
	assert.NotEmpty(t, record["createdAt"])
	assert.Len(t, record["facets"], 1)
}

func TestBluesky_PublishLogsInLazily(t *testing.T) {
	pds := &fakePDS{}
	b := newBluesky(t, pds, "app-pass")

	_, err := b.Publish(context.Background(), "no session yet")
	require.NoError(t, err)
	assert.Equal(t, 1, pds.logins)
	assert.Equal(t, 1, pds.creates)
}

func TestBluesky_ExpiredTokenReLogsIn(t *testing.T) {
	pds := &fakePDS{expireFirst: true}
	b := newBluesky(t, pds, "app-pass")
	ctx := context.Background()
	require.NoError(t, b.Login(ctx))

	ref, err := b.Publish(ctx, "second try")
	require.NoError(t, err)
	assert.NotEmpty(t, ref.ID)
	assert.Equal(t, 2, pds.logins)
	assert.Equal(t, 2, pds.creates)
	assert.Len(t, pds.records, 1)
}

func TestBluesky_RetriedCreateDoesNotDoublePost(t *testing.T) {
	pds := &fakePDS{failAfterStore: 1}
	b := newRetryingBluesky(t, pds)

	ref, err := b.Publish(context.Background(), "Curb your duplicates.")
	require.NoError(t, err)

	require.Len(t, pds.records, 1, "the commit before the 502 must be the only post")
	assert.GreaterOrEqual(t, pds.creates, 2, "the transport retried the create")
	rkey, _ := pds.records[0]["rkey"].(string)
	assert.True(t, strings.HasSuffix(ref.ID, "/"+rkey), ref.ID)
	assert.Equal(t, "bafyreib", ref.CID)
	assert.Equal(t, "https://bsky.app/profile/did:plc:larry/post/"+rkey, ref.URL)
}

func TestBluesky_FailedCreateIsReported(t *testing.T) {
	pds := &fakePDS{failCreates: true}
	b := newRetryingBluesky(t, pds)

	_, err := b.Publish(context.Background(), "never lands")
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Empty(t, pds.records)
	assert.Equal(t, 3, pds.creates)
}

func TestBluesky_LoginFailure(t *testing.T) {
	b := newBluesky(t, &fakePDS{}, "wrong")

	err := b.Verify(context.Background())
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, types.PlatformBluesky, apiErr.Platform)
	assert.Contains(t, apiErr.Detail, "AuthenticationRequired")

	_, err = b.Publish(context.Background(), "never posted")
	assert.Error(t, err)
}

func TestLinkFacets(t *testing.T) {
	text := "Café menu → https://example.com/menu, then http://x.io!"
	facets := LinkFacets(text)
	require.Len(t, facets, 2)

	first := facets[0]
	assert.Equal(t, "https://example.com/menu", first.Features[0].RichtextFacet_Link.Uri)
	assert.Equal(t, "https://example.com/menu", text[first.Index.ByteStart:first.Index.ByteEnd])

	second := facets[1]
	assert.Equal(t, "http://x.io", text[second.Index.ByteStart:second.Index.ByteEnd])

	assert.Empty(t, LinkFacets("no links, just complaints"))
}

func TestPostURL(t *testing.T) {
	assert.Equal(t, "https://bsky.app/profile/did:plc:abc/post/3k2", PostURL("at://did:plc:abc/app.bsky.feed.post/3k2"))
	assert.Equal(t, "at://did:plc:abc/app.bsky.feed.like/3k2", PostURL("at://did:plc:abc/app.bsky.feed.like/3k2"))
	assert.Equal(t, "garbage", PostURL("garbage"))
}
