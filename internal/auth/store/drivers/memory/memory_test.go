package memory_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/domain"
	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/store"
	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/store/drivers/memory"
	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/store/storetest"
)

func TestMemoryStore_Contract(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.TokenRepository { return memory.New() })
}

func TestRepository_ConcurrentInsertSameOwner(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository[domain.AccessToken]()
	owner := domain.Owner{ClientID: "client1", RedirectURI: "http://cb", Subject: "alice"}

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := domain.NewAccessToken(owner, nil, fmt.Sprintf("h%d", i), "t", storetest.Now.Add(time.Hour), storetest.Now)
			if err != nil {
				return
			}
			_, _ = repo.Insert(ctx, tok)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, repo.Len(), "racing creations leave exactly one live token")
}
