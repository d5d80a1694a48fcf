package signer

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return ConnectLocal("test-token", &ConnectOptions{Host: u.Hostname(), Port: port})
}

func TestSignGroupForeignSlotsComeBackEmpty(t *testing.T) {
	mine := testPayment(testAddr(1), testAddr(2), 500)
	theirs := testPayment(testAddr(2), testAddr(1), 300)

	var gotBody signRequestBody
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sign", r.URL.Path)
		require.Equal(t, "aplane test-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		_ = json.NewEncoder(w).Encode(signResponse{
			Signed: []string{hex.EncodeToString([]byte("signed-0")), ""},
		})
	})

	signed, err := client.SignGroup(Sign(mine, "", nil), Foreign(theirs, 1024))
	require.NoError(t, err)
	require.Len(t, signed, 2)
	require.Equal(t, []byte("signed-0"), signed[0])
	require.Nil(t, signed[1])

	require.Len(t, gotBody.Requests, 2)
	require.Equal(t, mine.Sender.String(), gotBody.Requests[0].AuthAddress)
	require.Empty(t, gotBody.Requests[1].AuthAddress)
	require.Equal(t, 1024, gotBody.Requests[1].LsigSize)
}

func TestSignGroupMayGrowWithDummies(t *testing.T) {
	txn := testPayment(testAddr(1), testAddr(2), 500)

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(signResponse{
			Signed: []string{
				hex.EncodeToString([]byte("signed")),
				hex.EncodeToString([]byte("dummy-1")),
				hex.EncodeToString([]byte("dummy-2")),
			},
			Mutations: &MutationReport{DummiesAdded: 2, OriginalCount: 1, FinalCount: 3},
		})
	})

	signed, err := client.SignGroup(Sign(txn, "", nil))
	require.NoError(t, err)
	require.Len(t, signed, 3)
}

func TestSignBlobRejectsUnsignedSlots(t *testing.T) {
	mine := testPayment(testAddr(1), testAddr(2), 500)
	theirs := testPayment(testAddr(2), testAddr(1), 300)

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(signResponse{
			Signed: []string{hex.EncodeToString([]byte("signed-0")), ""},
		})
	})

	_, err := client.SignBlob(Sign(mine, "", nil), Foreign(theirs, 0))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsigned")
}

func TestSignStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, "", ErrAuthentication},
		{"rejected", http.StatusForbidden, `{"error":"operator said no"}`, ErrSigningRejected},
		{"unavailable", http.StatusServiceUnavailable, "", ErrSignerUnavailable},
		{"key missing", http.StatusBadRequest, `{"error":"key ABC not found"}`, ErrKeyNotFound},
	}

	txn := testPayment(testAddr(1), testAddr(2), 500)

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})

			_, err := client.SignGroup(Sign(txn, "", nil))
			require.Error(t, err)
			require.True(t, errors.Is(err, tc.want), "got %v, want %v", err, tc.want)
		})
	}
}

func TestSignGroupInlineError(t *testing.T) {
	txn := testPayment(testAddr(1), testAddr(2), 500)

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(signResponse{Error: "group too large"})
	})

	_, err := client.SignGroup(Sign(txn, "", nil))
	require.Error(t, err)
	require.Contains(t, err.Error(), "group too large")
}

func TestListKeysCaching(t *testing.T) {
	calls := 0
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(keysResponse{
			Count: 1,
			Keys:  []KeyInfo{{Address: testAddr(9).String(), KeyType: "falcon-1024", LsigSize: 2990}},
		})
	})

	_, err := client.ListKeys(false)
	require.NoError(t, err)
	_, err = client.ListKeys(false)
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	_, err = client.ListKeys(true)
	require.NoError(t, err)
	require.Equal(t, 2, calls)

	info, err := client.KeyInfo(testAddr(9).String())
	require.NoError(t, err)
	require.NotNil(t, info)
	require.Equal(t, 2990, info.LsigSize)

	info, err = client.KeyInfo(testAddr(8).String())
	require.NoError(t, err)
	require.Nil(t, info)
}

func TestListKeysLocked(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := client.ListKeys(true)
	require.ErrorIs(t, err, ErrSignerLocked)
}

func TestPlanGroup(t *testing.T) {
	txn := testPayment(testAddr(1), testAddr(2), 500)
	planned := EncodeTxn(txn)

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/plan", r.URL.Path)
		_ = json.NewEncoder(w).Encode(planResponse{
			Transactions: []string{hex.EncodeToString(planned), hex.EncodeToString([]byte("dummy"))},
			Mutations:    &MutationReport{DummiesAdded: 1, GroupIDChanged: true},
		})
	})

	plan, err := client.PlanGroup(Sign(txn, "", nil))
	require.NoError(t, err)
	require.Len(t, plan.Transactions, 2)
	require.Equal(t, planned, plan.Transactions[0])
	require.NotNil(t, plan.Mutations)
	require.Equal(t, 1, plan.Mutations.DummiesAdded)
	require.True(t, plan.Mutations.GroupIDChanged)
}

func TestGenerateKey(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/admin/generate", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "falcon1024-hashlock-v1", body["key_type"])

		_ = json.NewEncoder(w).Encode(GenerateResult{
			Address: testAddr(7).String(),
			KeyType: "falcon1024-hashlock-v1",
		})
	})

	result, err := client.GenerateKey("falcon1024-hashlock-v1", map[string]string{"hash": "aa"})
	require.NoError(t, err)
	require.Equal(t, testAddr(7).String(), result.Address)
}

func TestDeleteKeyNotFound(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(errorResponse{Error: "no such key"})
	})

	err := client.DeleteKey(testAddr(1).String())
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestHealth(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	ok, err := client.Health()
	require.NoError(t, err)
	require.True(t, ok)

	down := ConnectLocal("tok", &ConnectOptions{Port: 1})
	ok, err = down.Health()
	require.NoError(t, err)
	require.False(t, ok)
}
