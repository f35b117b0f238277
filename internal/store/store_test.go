package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/spigotd/spigot/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New("") // in-memory SQLite
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seedUser(t *testing.T, st *Store, username string) *model.User {
	t.Helper()
	u := &model.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash",
		IsActive:     true,
		Scopes:       model.StringSet{model.ScopeUser},
	}
	if err := st.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("seedUser: %v", err)
	}
	return u
}

func seedRefreshLink(t *testing.T, st *Store, userID int64, chainID string, seq int) *model.RefreshToken {
	t.Helper()
	link := &model.RefreshToken{
		ChainID:   chainID,
		Seq:       seq,
		TokenHash: HashSecret(uuid.NewString()),
		UserID:    userID,
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	if err := st.CreateRefreshToken(context.Background(), link); err != nil {
		t.Fatalf("seedRefreshLink: %v", err)
	}
	return link
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func TestCreateUserDuplicateUsername(t *testing.T) {
	st := newTestStore(t)
	seedUser(t, st, "alice")

	dup := &model.User{
		Username:     "alice",
		Email:        "other@example.com",
		PasswordHash: "hash",
		IsActive:     true,
		Scopes:       model.StringSet{model.ScopeUser},
	}
	if err := st.CreateUser(context.Background(), dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("CreateUser duplicate = %v, want ErrDuplicate", err)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	st := newTestStore(t)
	seedUser(t, st, "alice")

	dup := &model.User{
		Username:     "someone-else",
		Email:        "alice@example.com",
		PasswordHash: "hash",
		IsActive:     true,
		Scopes:       model.StringSet{model.ScopeUser},
	}
	if err := st.CreateUser(context.Background(), dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("CreateUser duplicate email = %v, want ErrDuplicate", err)
	}
}

func TestUpdateUserEmailCollision(t *testing.T) {
	st := newTestStore(t)
	seedUser(t, st, "alice")
	bob := seedUser(t, st, "bob")

	bob.Email = "alice@example.com"
	if err := st.UpdateUser(context.Background(), bob); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("UpdateUser collision = %v, want ErrDuplicate", err)
	}
}

func TestDeleteUserWithUsageHistory(t *testing.T) {
	st := newTestStore(t)
	user := seedUser(t, st, "alice")
	ctx := context.Background()

	rec := &model.UsageRecord{
		RequestID:    "chatcmpl-" + uuid.NewString(),
		UserID:       user.ID,
		Model:        "llama-3",
		PromptTokens: 10,
		FinishReason: "stop",
	}
	if err := st.InsertUsageRecord(ctx, rec); err != nil {
		t.Fatalf("InsertUsageRecord: %v", err)
	}

	if err := st.DeleteUser(ctx, user.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("DeleteUser = %v, want ErrConflict", err)
	}

	// Deactivation is the supported path.
	user.IsActive = false
	if err := st.UpdateUser(ctx, user); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	got, err := st.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.IsActive {
		t.Error("expected user to be deactivated")
	}
}

func TestHasAnyAdmin(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	has, err := st.HasAnyAdmin(ctx)
	if err != nil {
		t.Fatalf("HasAnyAdmin: %v", err)
	}
	if has {
		t.Error("fresh store should have no admin")
	}

	admin := &model.User{
		Username:     "root",
		Email:        "root@example.com",
		PasswordHash: "hash",
		IsActive:     true,
		Scopes:       model.StringSet{model.ScopeAdmin, model.ScopeUser},
	}
	if err := st.CreateUser(ctx, admin); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	has, err = st.HasAnyAdmin(ctx)
	if err != nil {
		t.Fatalf("HasAnyAdmin: %v", err)
	}
	if !has {
		t.Error("expected admin to be detected")
	}
}

// ---------------------------------------------------------------------------
// Refresh tokens
// ---------------------------------------------------------------------------

func TestRotateRefreshTokenConsumesOnce(t *testing.T) {
	st := newTestStore(t)
	user := seedUser(t, st, "alice")
	ctx := context.Background()

	chainID := uuid.NewString()
	head := seedRefreshLink(t, st, user.ID, chainID, 0)

	next := &model.RefreshToken{
		ChainID:   chainID,
		Seq:       1,
		TokenHash: HashSecret(uuid.NewString()),
		UserID:    user.ID,
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	if err := st.RotateRefreshToken(ctx, head.ID, next); err != nil {
		t.Fatalf("RotateRefreshToken: %v", err)
	}
	if next.ID == 0 {
		t.Error("successor id not populated")
	}

	// The link is spent; a second rotate loses the compare-and-swap.
	again := &model.RefreshToken{
		ChainID:   chainID,
		Seq:       2,
		TokenHash: HashSecret(uuid.NewString()),
		UserID:    user.ID,
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	if err := st.RotateRefreshToken(ctx, head.ID, again); !errors.Is(err, ErrConflict) {
		t.Fatalf("second rotate = %v, want ErrConflict", err)
	}

	// The failed rotate must not have inserted its successor.
	if _, err := st.GetRefreshTokenByHash(ctx, again.TokenHash); !errors.Is(err, ErrNotFound) {
		t.Fatalf("orphan successor lookup = %v, want ErrNotFound", err)
	}
}

func TestRevokeRefreshChainCoversAllLinks(t *testing.T) {
	st := newTestStore(t)
	user := seedUser(t, st, "alice")
	ctx := context.Background()

	chainID := uuid.NewString()
	seedRefreshLink(t, st, user.ID, chainID, 0)
	seedRefreshLink(t, st, user.ID, chainID, 1)

	if err := st.RevokeRefreshChain(ctx, chainID); err != nil {
		t.Fatalf("RevokeRefreshChain: %v", err)
	}

	chain, err := st.ListRefreshChain(ctx, chainID)
	if err != nil {
		t.Fatalf("ListRefreshChain: %v", err)
	}
	for _, link := range chain {
		if !link.Revoked {
			t.Errorf("link seq %d not revoked", link.Seq)
		}
	}
}

func TestPruneRefreshTokens(t *testing.T) {
	st := newTestStore(t)
	user := seedUser(t, st, "alice")
	ctx := context.Background()

	old := &model.RefreshToken{
		ChainID:   uuid.NewString(),
		TokenHash: HashSecret(uuid.NewString()),
		UserID:    user.ID,
		ExpiresAt: time.Now().UTC().Add(-48 * time.Hour),
	}
	if err := st.CreateRefreshToken(ctx, old); err != nil {
		t.Fatalf("CreateRefreshToken: %v", err)
	}
	seedRefreshLink(t, st, user.ID, uuid.NewString(), 0) // still valid

	n, err := st.PruneRefreshTokens(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneRefreshTokens: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d links, want 1", n)
	}
}

// ---------------------------------------------------------------------------
// Usage records
// ---------------------------------------------------------------------------

func TestInsertUsageRecordDuplicateRequestID(t *testing.T) {
	st := newTestStore(t)
	user := seedUser(t, st, "alice")
	ctx := context.Background()

	rec := &model.UsageRecord{
		RequestID:        "req-42",
		UserID:           user.ID,
		Model:            "llama-3",
		PromptTokens:     100,
		CompletionTokens: 50,
		FinishReason:     "stop",
	}
	if err := st.InsertUsageRecord(ctx, rec); err != nil {
		t.Fatalf("InsertUsageRecord: %v", err)
	}
	if rec.TotalTokens != 150 {
		t.Errorf("total tokens = %d, want 150", rec.TotalTokens)
	}

	dup := &model.UsageRecord{
		RequestID:        "req-42",
		UserID:           user.ID,
		Model:            "llama-3",
		PromptTokens:     999,
		CompletionTokens: 999,
	}
	if err := st.InsertUsageRecord(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate insert = %v, want ErrDuplicate", err)
	}

	// The committed record keeps the original totals.
	got, err := st.GetUsageRecordByRequestID(ctx, "req-42")
	if err != nil {
		t.Fatalf("GetUsageRecordByRequestID: %v", err)
	}
	if got.TotalTokens != 150 {
		t.Errorf("committed total = %d, want 150", got.TotalTokens)
	}

	// And the aggregate counted the request exactly once.
	tokens, requests, err := st.UsageTotals(ctx, user.ID,
		time.Now().UTC().Add(-time.Hour), time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("UsageTotals: %v", err)
	}
	if tokens != 150 || requests != 1 {
		t.Errorf("totals = %d tokens / %d requests, want 150 / 1", tokens, requests)
	}
}

func TestUsageAggregatesAcrossModels(t *testing.T) {
	st := newTestStore(t)
	user := seedUser(t, st, "alice")
	other := seedUser(t, st, "bob")
	ctx := context.Background()
	now := time.Now().UTC()

	inserts := []struct {
		user   int64
		model  string
		tokens int
	}{
		{user.ID, "llama-3", 100},
		{user.ID, "llama-3", 50},
		{user.ID, "qwen-2", 30},
		{other.ID, "llama-3", 1000},
	}
	for i, in := range inserts {
		rec := &model.UsageRecord{
			RequestID:        uuid.NewString(),
			UserID:           in.user,
			Model:            in.model,
			CompletionTokens: in.tokens,
			FinishReason:     "stop",
			Timestamp:        now,
		}
		if err := st.InsertUsageRecord(ctx, rec); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	from, to := now.Add(-time.Hour), now.Add(time.Hour)

	models, err := st.UsageByModel(ctx, user.ID, from, to)
	if err != nil {
		t.Fatalf("UsageByModel: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("model breakdown length = %d, want 2", len(models))
	}
	// Sorted by tokens descending.
	if models[0].Model != "llama-3" || models[0].TotalTokens != 150 {
		t.Errorf("top model = %s/%d, want llama-3/150", models[0].Model, models[0].TotalTokens)
	}

	// System-wide view includes both users.
	tokens, requests, err := st.UsageTotals(ctx, 0, from, to)
	if err != nil {
		t.Fatalf("UsageTotals system: %v", err)
	}
	if tokens != 1180 || requests != 4 {
		t.Errorf("system totals = %d/%d, want 1180/4", tokens, requests)
	}

	daily, err := st.UsageDaily(ctx, user.ID, from, to)
	if err != nil {
		t.Fatalf("UsageDaily: %v", err)
	}
	if len(daily) != 1 {
		t.Fatalf("daily series length = %d, want 1", len(daily))
	}
	if daily[0].Tokens != 180 || daily[0].Requests != 3 {
		t.Errorf("daily bucket = %d/%d, want 180/3", daily[0].Tokens, daily[0].Requests)
	}
}

// TestUsageDailyBucketsAndBounds pins the daily series to the usage_daily
// aggregate: records land in their day bucket and the range bounds filter
// whole days.
func TestUsageDailyBucketsAndBounds(t *testing.T) {
	st := newTestStore(t)
	user := seedUser(t, st, "alice")
	ctx := context.Background()
	now := time.Now().UTC()
	yesterday := now.AddDate(0, 0, -1)

	for i, ts := range []time.Time{yesterday, now, now} {
		rec := &model.UsageRecord{
			RequestID:        uuid.NewString(),
			UserID:           user.ID,
			Model:            "llama-3",
			CompletionTokens: 10,
			FinishReason:     "stop",
			Timestamp:        ts,
		}
		if err := st.InsertUsageRecord(ctx, rec); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	daily, err := st.UsageDaily(ctx, user.ID, yesterday, now)
	if err != nil {
		t.Fatalf("UsageDaily: %v", err)
	}
	if len(daily) != 2 {
		t.Fatalf("daily series length = %d, want 2", len(daily))
	}
	if daily[0].Day != yesterday.Format("2006-01-02") {
		t.Errorf("first bucket = %q, want yesterday", daily[0].Day)
	}
	if daily[1].Tokens != 20 || daily[1].Requests != 2 {
		t.Errorf("today bucket = %d/%d, want 20/2", daily[1].Tokens, daily[1].Requests)
	}

	// A range that starts today excludes yesterday's bucket.
	daily, err = st.UsageDaily(ctx, user.ID, now, now)
	if err != nil {
		t.Fatalf("UsageDaily today only: %v", err)
	}
	if len(daily) != 1 {
		t.Fatalf("today-only series length = %d, want 1", len(daily))
	}
}

// ---------------------------------------------------------------------------
// Chat sessions
// ---------------------------------------------------------------------------

func TestChatSessionLifecycle(t *testing.T) {
	st := newTestStore(t)
	user := seedUser(t, st, "alice")
	ctx := context.Background()

	sess := &model.ChatSession{
		ID:     uuid.NewString(),
		UserID: user.ID,
		Title:  "test chat",
	}
	if err := st.CreateChatSession(ctx, sess); err != nil {
		t.Fatalf("CreateChatSession: %v", err)
	}

	msg := &model.ChatMessage{
		SessionID: sess.ID,
		Role:      model.RoleUser,
		Content:   "hello",
	}
	if err := st.AppendChatMessage(ctx, msg); err != nil {
		t.Fatalf("AppendChatMessage: %v", err)
	}

	// Ownership is enforced on read.
	if _, err := st.GetChatSession(ctx, sess.ID, user.ID+1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-user GetChatSession = %v, want ErrNotFound", err)
	}

	if err := st.DeleteChatSession(ctx, sess.ID, user.ID); err != nil {
		t.Fatalf("DeleteChatSession: %v", err)
	}

	// Messages cascade with the session.
	msgs, err := st.ListChatMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ListChatMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages after delete = %d, want 0", len(msgs))
	}
}
