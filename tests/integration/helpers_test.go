//go:build integration

package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/bissquit/market-courier/internal/domain"
	"github.com/bissquit/market-courier/internal/notifications"
	"github.com/bissquit/market-courier/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// resetQueue empties the courier tables so each test starts from a known queue.
func resetQueue(t *testing.T) {
	t.Helper()
	_, err := testDB.Exec(context.Background(), `TRUNCATE delivery_logs, notification_queue`)
	require.NoError(t, err)
}

// seedProduct inserts an active product with its seller and returns the product id.
func seedProduct(t *testing.T, title string) string {
	t.Helper()
	ctx := context.Background()

	sellerID := "seller-" + uuid.NewString()
	_, err := testDB.Exec(ctx, `
		INSERT INTO profiles (id, display_name, telegram_chat_id, locale)
		VALUES ($1, 'Seller', '1001', 'en')
	`, sellerID)
	require.NoError(t, err)

	productID := "product-" + uuid.NewString()
	_, err = testDB.Exec(ctx, `
		INSERT INTO products (id, owner_id, title, price, currency, city, images, status)
		VALUES ($1, $2, $3, 150000, 'RUB', 'Moscow', ARRAY['https://cdn.example.com/1.jpg'], 'active')
	`, productID, sellerID, title)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = testDB.Exec(context.Background(), `DELETE FROM products WHERE id = $1`, productID)
		_, _ = testDB.Exec(context.Background(), `DELETE FROM profiles WHERE id = $1`, sellerID)
	})
	return productID
}

// tokenFor issues a producer token carrying role.
func tokenFor(t *testing.T, role domain.Role) string {
	t.Helper()
	token, err := testAuth.IssueToken("integration-producer", role, time.Hour)
	require.NoError(t, err)
	return token
}

// enqueue posts a notification as a service producer and returns the result.
func enqueue(t *testing.T, kind string, payload map[string]any) notifications.EnqueueResult {
	t.Helper()
	client := newTestClient(t).WithToken(tokenFor(t, domain.RoleService))

	resp, err := client.POST("/api/v1/notifications", map[string]any{"kind": kind, "payload": payload})
	require.NoError(t, err)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("enqueue %s: status=%d body=%s", kind, resp.StatusCode, testutil.ReadBody(t, resp))
	}

	var result notifications.EnqueueResult
	testutil.DecodeData(t, resp, &result)
	return result
}

// drain runs scheduler ticks until the queue has nothing eligible.
func drain(t *testing.T) int {
	t.Helper()
	n := 0
	for testApp.Scheduler().Tick(context.Background()) {
		n++
		require.Less(t, n, 100, "queue did not drain")
	}
	return n
}
