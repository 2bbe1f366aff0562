// Package storetest is a contract suite run against every TokenRepository
// driver so they behave the same.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/domain"
	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/store"
)

// Now is the fixed instant the suite builds entities around.
var Now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

var (
	alice = domain.Owner{ClientID: "client1", RedirectURI: "http://cb", Subject: "alice"}
	bob   = domain.Owner{ClientID: "client1", RedirectURI: "http://cb", Subject: "bob"}
	carol = domain.Owner{ClientID: "client2", RedirectURI: "http://other", Subject: "carol"}
)

func accessToken(t *testing.T, owner domain.Owner, hash string, ttl time.Duration) domain.AccessToken {
	t.Helper()
	created := Now.Add(-time.Hour)
	tok, err := domain.NewAccessToken(owner, []string{"openid", "email"}, hash, "ticket-"+hash, Now.Add(ttl), created)
	require.NoError(t, err)
	return tok
}

// Run exercises the full Repository contract. newRepo must return a fresh,
// empty repository on every call.
func Run(t *testing.T, newRepo func(t *testing.T) store.TokenRepository) {
	t.Run("InsertAndGet", func(t *testing.T) { testInsertAndGet(t, newRepo(t)) })
	t.Run("DuplicateInsert", func(t *testing.T) { testDuplicateInsert(t, newRepo(t)) })
	t.Run("LastWriteWins", func(t *testing.T) { testLastWriteWins(t, newRepo(t)) })
	t.Run("GetCandidates", func(t *testing.T) { testGetCandidates(t, newRepo(t)) })
	t.Run("DeleteByOwner", func(t *testing.T) { testDeleteByOwner(t, newRepo(t)) })
	t.Run("DeleteSingleUse", func(t *testing.T) { testDeleteSingleUse(t, newRepo(t)) })
	t.Run("DeleteExpired", func(t *testing.T) { testDeleteExpired(t, newRepo(t)) })
	t.Run("KindsAreIndependent", func(t *testing.T) { testKindsAreIndependent(t, newRepo(t)) })
	t.Run("ConcurrentDelete", func(t *testing.T) { testConcurrentDelete(t, newRepo(t)) })
	t.Run("Ping", func(t *testing.T) { require.NoError(t, newRepo(t).Ping(context.Background())) })
}

func testInsertAndGet(t *testing.T, repo store.TokenRepository) {
	ctx := context.Background()
	codes := repo.AuthorizationCodes()

	code, err := domain.NewAuthorizationCode(alice, []string{"openid"}, "code-hash", "ticket", Now.Add(5*time.Minute), Now)
	require.NoError(t, err)

	_, err = codes.Insert(ctx, code)
	require.NoError(t, err)

	got, err := codes.Get(ctx, "code-hash")
	require.NoError(t, err)
	require.Equal(t, "code-hash", got.Code)
	require.Equal(t, alice, got.Owner())
	require.Equal(t, []string{"openid"}, got.Scope)
	require.Equal(t, "ticket", got.Ticket)
	require.True(t, got.ValidTo.Equal(code.ValidTo))
	require.True(t, got.Created.Equal(code.Created))

	_, err = codes.Get(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testDuplicateInsert(t *testing.T, repo store.TokenRepository) {
	ctx := context.Background()
	tokens := repo.AccessTokens()

	_, err := tokens.Insert(ctx, accessToken(t, alice, "h1", time.Hour))
	require.NoError(t, err)

	// Same hash, different owner: still a duplicate key.
	_, err = tokens.Insert(ctx, accessToken(t, bob, "h1", time.Hour))
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	got, err := tokens.Get(ctx, "h1")
	require.NoError(t, err)
	require.Equal(t, alice, got.Owner(), "failed insert leaves the store unchanged")
}

func testLastWriteWins(t *testing.T, repo store.TokenRepository) {
	ctx := context.Background()
	tokens := repo.AccessTokens()

	_, err := tokens.Insert(ctx, accessToken(t, alice, "first", time.Hour))
	require.NoError(t, err)
	_, err = tokens.Insert(ctx, accessToken(t, bob, "bob", time.Hour))
	require.NoError(t, err)
	_, err = tokens.Insert(ctx, accessToken(t, alice, "second", time.Hour))
	require.NoError(t, err)

	live, err := tokens.GetCandidates(ctx, store.Filter{RedirectURI: "http://cb"}, Now)
	require.NoError(t, err)

	var aliceHashes []string
	for _, tok := range live {
		if tok.Owner() == alice {
			aliceHashes = append(aliceHashes, tok.Hash())
		}
	}
	require.Equal(t, []string{"second"}, aliceHashes)
	require.Len(t, live, 2, "other owners are untouched")
}

func testGetCandidates(t *testing.T, repo store.TokenRepository) {
	ctx := context.Background()
	tokens := repo.AccessTokens()

	for _, tok := range []domain.AccessToken{
		accessToken(t, alice, "live-alice", time.Hour),
		accessToken(t, bob, "expired-bob", -time.Minute),
		accessToken(t, carol, "live-carol", time.Hour),
		accessToken(t, domain.Owner{ClientID: "client3", RedirectURI: "http://cb", Subject: "dave"}, "boundary", 0),
	} {
		_, err := tokens.Insert(ctx, tok)
		require.NoError(t, err)
	}

	hashes := func(f store.Filter) []string {
		got, err := tokens.GetCandidates(ctx, f, Now)
		require.NoError(t, err)
		var out []string
		for _, tok := range got {
			out = append(out, tok.Hash())
		}
		return out
	}

	require.ElementsMatch(t, []string{"live-alice"}, hashes(store.Filter{RedirectURI: "http://cb"}),
		"expired and boundary entities are never candidates")
	require.ElementsMatch(t, []string{"live-alice"}, hashes(store.Filter{ClientID: "client1", RedirectURI: "http://cb"}))
	require.Empty(t, hashes(store.Filter{ClientID: "client2", RedirectURI: "http://cb"}))
	require.ElementsMatch(t, []string{"live-alice", "live-carol"}, hashes(store.Filter{}))
}

func testDeleteByOwner(t *testing.T, repo store.TokenRepository) {
	ctx := context.Background()
	tokens := repo.RefreshTokens()

	for _, o := range []domain.Owner{alice, bob} {
		tok, err := domain.NewRefreshToken(o, "r-"+o.Subject, "ticket", Now.Add(time.Hour), Now)
		require.NoError(t, err)
		_, err = tokens.Insert(ctx, tok)
		require.NoError(t, err)
	}

	n, err := tokens.DeleteByOwner(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = tokens.DeleteByOwner(ctx, alice)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = tokens.Get(ctx, "r-bob")
	require.NoError(t, err)
}

func testDeleteSingleUse(t *testing.T, repo store.TokenRepository) {
	ctx := context.Background()
	codes := repo.AuthorizationCodes()

	code, err := domain.NewAuthorizationCode(alice, nil, "once", "ticket", Now.Add(time.Minute), Now)
	require.NoError(t, err)
	_, err = codes.Insert(ctx, code)
	require.NoError(t, err)

	ok, err := codes.Delete(ctx, "once")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = codes.Delete(ctx, "once")
	require.NoError(t, err)
	require.False(t, ok)
}

func testDeleteExpired(t *testing.T, repo store.TokenRepository) {
	ctx := context.Background()
	tokens := repo.AccessTokens()

	owners := []domain.Owner{
		alice, bob, carol,
		{ClientID: "c4", RedirectURI: "http://cb", Subject: "erin"},
	}
	ttls := []time.Duration{-30 * time.Minute, 0, time.Second, time.Hour}
	for i, o := range owners {
		_, err := tokens.Insert(ctx, accessToken(t, o, o.Subject, ttls[i]))
		require.NoError(t, err)
	}

	n, err := tokens.DeleteExpired(ctx, Now)
	require.NoError(t, err)
	require.Equal(t, 2, n, "ValidTo <= now is removed, ValidTo > now kept")

	for _, kept := range []string{"carol", "erin"} {
		_, err := tokens.Get(ctx, kept)
		require.NoError(t, err)
	}
	for _, gone := range []string{"alice", "bob"} {
		_, err := tokens.Get(ctx, gone)
		require.ErrorIs(t, err, store.ErrNotFound)
	}

	n, err = tokens.DeleteExpired(ctx, Now)
	require.NoError(t, err)
	require.Zero(t, n)
}

func testKindsAreIndependent(t *testing.T, repo store.TokenRepository) {
	ctx := context.Background()

	_, err := repo.AccessTokens().Insert(ctx, accessToken(t, alice, "shared", time.Hour))
	require.NoError(t, err)

	rt, err := domain.NewRefreshToken(alice, "shared", "ticket", Now.Add(time.Hour), Now)
	require.NoError(t, err)
	_, err = repo.RefreshTokens().Insert(ctx, rt)
	require.NoError(t, err, "same hash in another kind is not a conflict")

	_, err = repo.AccessTokens().Get(ctx, "shared")
	require.NoError(t, err, "last-write-wins is per kind")

	_, err = repo.AuthorizationCodes().Get(ctx, "shared")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testConcurrentDelete(t *testing.T, repo store.TokenRepository) {
	ctx := context.Background()
	codes := repo.AuthorizationCodes()

	code, err := domain.NewAuthorizationCode(alice, nil, "race", "ticket", Now.Add(time.Minute), Now)
	require.NoError(t, err)
	_, err = codes.Insert(ctx, code)
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := codes.Delete(ctx, "race")
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
}
