package refreshtoken

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/labtrack/internal/apperrors"
	"github.com/nkiryanov/labtrack/internal/models"
	"github.com/nkiryanov/labtrack/internal/repository/postgres"
	"github.com/nkiryanov/labtrack/internal/testutil"
)

func Test_Store(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	// Begin new db transaction, create owner and the store
	// Rollback transaction when test stops
	inTx := func(t *testing.T, fn func(s *Store, clock *testutil.Clock, owner models.User)) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			clock := testutil.NewClock(start)
			storage := postgres.NewStorage(tx)
			owner := testutil.CreateUser(t, storage.User(), "alice", models.RoleLabEngineer)

			s, err := New(Config{RefreshTTL: time.Hour, Now: clock.Now}, storage.Refresh())
			require.NoError(t, err, "store should be created without errors")

			fn(s, clock, owner)
		})
	}

	t.Run("new defaults", func(t *testing.T) {
		s, err := New(Config{}, &postgres.RefreshTokenRepo{})
		require.NoError(t, err)

		require.Equal(t, defaultRefreshTTL, s.TTL(), "default refresh ttl is 7 days")
		require.NotNil(t, s.now)
		require.NotNil(t, s.rand)
	})

	t.Run("new without repo fail", func(t *testing.T) {
		_, err := New(Config{}, nil)

		require.Error(t, err)
	})

	t.Run("Issue", func(t *testing.T) {
		t.Run("issue ok", func(t *testing.T) {
			inTx(t, func(s *Store, _ *testutil.Clock, owner models.User) {
				token, err := s.Issue(t.Context(), owner.ID)

				require.NoError(t, err)
				assert.Len(t, token.Value, 43, "32 bytes in unpadded base64url")
				assert.Equal(t, start.Add(time.Hour), token.ExpiresAt)

				record, err := s.repo.Get(t.Context(), Hash(token.Value))
				require.NoError(t, err, "token has to be saved by hash")
				assert.Equal(t, owner.ID, record.UserID)
				assert.NotEqual(t, token.Value, record.TokenHash, "raw token must not be stored")
			})
		})

		t.Run("issue different tokens", func(t *testing.T) {
			inTx(t, func(s *Store, _ *testutil.Clock, owner models.User) {
				first, err := s.Issue(t.Context(), owner.ID)
				require.NoError(t, err)
				second, err := s.Issue(t.Context(), owner.ID)
				require.NoError(t, err)

				require.NotEqual(t, first.Value, second.Value)
			})
		})

		t.Run("retry on collision", func(t *testing.T) {
			inTx(t, func(s *Store, _ *testutil.Clock, owner models.User) {
				// Same bytes for the first two tokens, the third differs
				same := bytes.Repeat([]byte{1}, tokenBytes)
				other := bytes.Repeat([]byte{2}, tokenBytes)
				s.rand = bytes.NewReader(append(append(append([]byte{}, same...), same...), other...))

				first, err := s.Issue(t.Context(), owner.ID)
				require.NoError(t, err)

				second, err := s.Issue(t.Context(), owner.ID)
				require.NoError(t, err, "collision has to be retried")
				require.NotEqual(t, first.Value, second.Value)
			})
		})

		t.Run("give up after attempts", func(t *testing.T) {
			inTx(t, func(s *Store, _ *testutil.Clock, owner models.User) {
				same := bytes.Repeat([]byte{1}, tokenBytes)
				s.rand = bytes.NewReader(bytes.Repeat(same, maxIssueAttempts+1))

				_, err := s.Issue(t.Context(), owner.ID)
				require.NoError(t, err)

				_, err = s.Issue(t.Context(), owner.ID)
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenExists)
			})
		})
	})

	t.Run("Verify", func(t *testing.T) {
		t.Run("valid token", func(t *testing.T) {
			inTx(t, func(s *Store, _ *testutil.Clock, owner models.User) {
				token, err := s.Issue(t.Context(), owner.ID)
				require.NoError(t, err)

				record, err := s.Verify(t.Context(), token.Value)

				require.NoError(t, err)
				require.Equal(t, owner.ID, record.UserID)
			})
		})

		t.Run("unknown token", func(t *testing.T) {
			inTx(t, func(s *Store, _ *testutil.Clock, _ models.User) {
				_, err := s.Verify(t.Context(), "unknown")

				require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
			})
		})

		t.Run("expired token", func(t *testing.T) {
			inTx(t, func(s *Store, clock *testutil.Clock, owner models.User) {
				token, err := s.Issue(t.Context(), owner.ID)
				require.NoError(t, err)

				clock.Advance(time.Hour)
				_, err = s.Verify(t.Context(), token.Value)

				require.ErrorIs(t, err, apperrors.ErrRefreshTokenExpired)
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenInvalid)
			})
		})

		t.Run("revoked token never passes again", func(t *testing.T) {
			inTx(t, func(s *Store, clock *testutil.Clock, owner models.User) {
				token, err := s.Issue(t.Context(), owner.ID)
				require.NoError(t, err)

				userID, revoked, err := s.Revoke(t.Context(), token.Value)
				require.NoError(t, err)
				require.True(t, revoked)
				require.Equal(t, owner.ID, userID)

				for range 3 {
					_, err = s.Verify(t.Context(), token.Value)
					require.ErrorIs(t, err, apperrors.ErrRefreshTokenRevoked)

					_, revoked, err = s.Revoke(t.Context(), token.Value)
					require.NoError(t, err, "revoke is idempotent")
					require.False(t, revoked)

					clock.Advance(time.Minute)
				}
			})
		})
	})

	t.Run("Consume", func(t *testing.T) {
		t.Run("consume once", func(t *testing.T) {
			inTx(t, func(s *Store, _ *testutil.Clock, owner models.User) {
				token, err := s.Issue(t.Context(), owner.ID)
				require.NoError(t, err)

				record, err := s.Consume(t.Context(), token.Value)
				require.NoError(t, err)
				require.Equal(t, owner.ID, record.UserID)

				_, err = s.Consume(t.Context(), token.Value)
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenRevoked, "second consume has to fail")
			})
		})

		t.Run("consume expired", func(t *testing.T) {
			inTx(t, func(s *Store, clock *testutil.Clock, owner models.User) {
				token, err := s.Issue(t.Context(), owner.ID)
				require.NoError(t, err)
				clock.Advance(2 * time.Hour)

				_, err = s.Consume(t.Context(), token.Value)

				require.ErrorIs(t, err, apperrors.ErrRefreshTokenExpired)
			})
		})

		t.Run("consume unknown", func(t *testing.T) {
			inTx(t, func(s *Store, _ *testutil.Clock, _ models.User) {
				_, err := s.Consume(t.Context(), "unknown")

				require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
			})
		})
	})

	t.Run("RevokeAll", func(t *testing.T) {
		inTx(t, func(s *Store, _ *testutil.Clock, owner models.User) {
			var tokens []models.IssuedToken
			for range 3 {
				token, err := s.Issue(t.Context(), owner.ID)
				require.NoError(t, err)
				tokens = append(tokens, token)
			}

			count, err := s.RevokeAll(t.Context(), owner.ID)
			require.NoError(t, err)
			require.Equal(t, int64(3), count)

			for _, token := range tokens {
				_, err := s.Verify(t.Context(), token.Value)
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenRevoked)
			}
		})
	})

	t.Run("SweepExpired", func(t *testing.T) {
		inTx(t, func(s *Store, clock *testutil.Clock, owner models.User) {
			old, err := s.Issue(t.Context(), owner.ID)
			require.NoError(t, err)
			clock.Advance(30 * time.Minute)
			fresh, err := s.Issue(t.Context(), owner.ID)
			require.NoError(t, err)
			clock.Advance(30 * time.Minute)

			count, err := s.SweepExpired(t.Context())
			require.NoError(t, err)
			require.Equal(t, int64(1), count, "only the first token is expired")

			_, err = s.Verify(t.Context(), old.Value)
			require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
			_, err = s.Verify(t.Context(), fresh.Value)
			require.NoError(t, err)
		})
	})
}

// Concurrent consumers race on the real pool, not inside a rolled back transaction
func Test_Store_ConcurrentConsume(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	storage := postgres.NewStorage(pg.Pool)
	owner := testutil.CreateUser(t, storage.User(), "race-"+uuid.NewString()[:8], models.RoleLabEngineer)
	s, err := New(Config{}, storage.Refresh())
	require.NoError(t, err)

	token, err := s.Issue(t.Context(), owner.ID)
	require.NoError(t, err)

	const consumers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for range consumers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Consume(t.Context(), token.Value); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, succeeded, "exactly one consumer has to win")
}
