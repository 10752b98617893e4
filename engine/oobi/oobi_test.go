package oobi_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citadel-wallet/keysync/engine/oobi"
	"github.com/citadel-wallet/keysync/model/kel"
	"github.com/citadel-wallet/keysync/module/irrecoverable"
	badgerstore "github.com/citadel-wallet/keysync/storage/badger"
	"github.com/citadel-wallet/keysync/utils/unittest"
)

const endpoint = "http://wallet.example"

type introduction struct {
	server   *httptest.Server
	state    *kel.KeyState
	ixn      *kel.Event
	resolver *oobi.Resolver
	store    *badgerstore.Store
}

func newIntroduction(t *testing.T) *introduction {
	published := unittest.StoreFixture(t)
	state := unittest.IdentifierFixture(t, published, unittest.WitnessFixture())
	ixn := unittest.InteractionFixture(t, state)
	require.NoError(t, published.Append(ixn))

	router := mux.NewRouter()
	oobi.NewPublisher(unittest.Logger(), published, endpoint).Register(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	store := unittest.StoreFixture(t)
	return &introduction{
		server:   server,
		state:    state,
		ixn:      ixn,
		store:    store,
		resolver: oobi.NewResolver(unittest.Logger(), store, 2, time.Second),
	}
}

func TestResolver_ResolveNow(t *testing.T) {
	in := newIntroduction(t)
	url := oobi.URL(in.server.URL+"/", in.state.Prefix)
	assert.Equal(t, in.server.URL+"/oobi/"+in.state.Prefix.String(), url)
	assert.False(t, in.resolver.Resolved(in.state.Prefix))

	require.NoError(t, in.resolver.ResolveNow(in.state.Prefix, url, "alice"))

	assert.True(t, in.resolver.Resolved(in.state.Prefix))
	state, err := in.store.KeyState(in.state.Prefix)
	require.NoError(t, err)
	assert.Equal(t, in.ixn.Digest, state.Digest)
	contact, err := in.store.Contact(in.state.Prefix)
	require.NoError(t, err)
	assert.Equal(t, &kel.Contact{Prefix: in.state.Prefix, Alias: "alice", OOBI: url, URL: endpoint}, contact)

	// resolving again keeps the alias and tolerates known events
	require.NoError(t, in.resolver.ResolveNow(in.state.Prefix, url, ""))
	contact, err = in.store.Contact(in.state.Prefix)
	require.NoError(t, err)
	assert.Equal(t, "alice", contact.Alias)
}

func TestResolver_Rejects(t *testing.T) {
	in := newIntroduction(t)

	unknown := unittest.PrefixFixture()
	err := in.resolver.ResolveNow(unknown, oobi.URL(in.server.URL, unknown), "")
	assert.ErrorContains(t, err, "404")

	err = in.resolver.ResolveNow(unknown, oobi.URL(in.server.URL, in.state.Prefix), "")
	assert.ErrorContains(t, err, "introduction is for")
	assert.False(t, in.resolver.Resolved(unknown))
	assert.False(t, in.resolver.Resolved(in.state.Prefix))
}

func TestResolver_Background(t *testing.T) {
	in := newIntroduction(t)
	ctx, cancel := irrecoverable.NewMockSignalerContextWithCancel(t, context.Background())
	in.resolver.Start(ctx)
	unittest.RequireCloseBefore(t, in.resolver.Ready(), time.Second, "resolver did not start")

	assert.Error(t, in.resolver.Resolve(in.state.Prefix, ""))
	require.NoError(t, in.resolver.Resolve(in.state.Prefix, oobi.URL(in.server.URL, in.state.Prefix)))
	require.Eventually(t, func() bool { return in.resolver.Resolved(in.state.Prefix) }, 5*time.Second, 10*time.Millisecond)

	cancel()
	unittest.RequireCloseBefore(t, in.resolver.Done(), time.Second, "resolver did not stop")
	assert.Error(t, in.resolver.Resolve(in.state.Prefix, oobi.URL(in.server.URL, in.state.Prefix)))
}
