package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wasock/internal/domain"
)

func fastSessionStore(dir string) *SessionFileStore {
	s := NewSessionFileStore(dir)
	s.scrypt = scryptParams{N: 1 << 10, R: 8, P: 1}
	return s
}

func sampleSession() domain.SessionConfig {
	return domain.SessionConfig{
		ClientID:     "Y2xpZW50LWlkLTEyMzQ1Ng==",
		Keys:         domain.KeyPair{Public: domain.X25519Public{1}, Private: domain.X25519Private{2}},
		ServerSecret: []byte{3, 4},
		EncKey:       []byte{5},
		MacKey:       []byte{6},
		Tokens:       &domain.Tokens{Client: "c", Server: "s", Browser: "b"},
	}
}

func TestSessionFileStore_SaveLoad(t *testing.T) {
	s := fastSessionStore(filepath.Join(t.TempDir(), "home"))

	_, ok, err := s.LoadSession("pass")
	require.NoError(t, err)
	assert.False(t, ok, "nothing stored yet")

	cfg := sampleSession()
	require.NoError(t, s.SaveSession("pass", cfg))

	got, ok, err := s.LoadSession("pass")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cfg, got)

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, fileMode, info.Mode().Perm())
}

func TestSessionFileStore_WrongPassphrase(t *testing.T) {
	s := fastSessionStore(t.TempDir())
	require.NoError(t, s.SaveSession("correct", sampleSession()))

	_, ok, err := s.LoadSession("wrong")
	assert.ErrorIs(t, err, ErrWrongPassphrase)
	assert.False(t, ok)
}

func TestSessionFileStore_Tampered(t *testing.T) {
	s := fastSessionStore(t.TempDir())
	require.NoError(t, s.SaveSession("pass", sampleSession()))

	b, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	var blob sealed
	require.NoError(t, json.Unmarshal(b, &blob))
	blob.Cipher[0] ^= 1
	b, err = json.Marshal(blob)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path(), b, fileMode))

	_, _, err = s.LoadSession("pass")
	assert.ErrorIs(t, err, ErrWrongPassphrase)
}

func TestSessionFileStore_FutureVersion(t *testing.T) {
	s := fastSessionStore(t.TempDir())
	b, err := json.Marshal(sealed{V: sealedFormatVersion + 1})
	require.NoError(t, err)
	require.NoError(t, writeFile(s.Path(), b))

	_, _, err = s.LoadSession("pass")
	assert.ErrorContains(t, err, "unsupported sealed blob version")
}

func TestSessionFileStore_Delete(t *testing.T) {
	s := fastSessionStore(t.TempDir())
	require.NoError(t, s.DeleteSession(), "deleting nothing is fine")
	require.NoError(t, s.SaveSession("pass", sampleSession()))
	require.NoError(t, s.DeleteSession())

	_, ok, err := s.LoadSession("pass")
	require.NoError(t, err)
	assert.False(t, ok)
}

const rawConn = `{"ref":"r1","wid":"15550001111@c.us","connected":true,"clientToken":"ct","serverToken":"st","browserToken":"bt","phone":{"device_model":"x"}}`

func TestConnFileStore_KeepsRawPayload(t *testing.T) {
	s := NewConnFileStore(t.TempDir())

	_, ok, err := s.LatestConn()
	require.NoError(t, err)
	assert.False(t, ok)

	info, err := domain.ParseConnInfo(json.RawMessage(rawConn))
	require.NoError(t, err)
	require.NoError(t, s.SaveConn(info))

	got, ok, err := s.LatestConn()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "15550001111@c.us", got.Wid)
	assert.Equal(t, "st", got.ServerToken)
	assert.JSONEq(t, rawConn, string(got.Raw))
}

func TestConnFileStore_WithoutRaw(t *testing.T) {
	s := NewConnFileStore(t.TempDir())
	require.NoError(t, s.SaveConn(domain.ConnInfo{Wid: "w", ClientToken: "c"}))

	got, ok, err := s.LatestConn()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "w", got.Wid)
	assert.Equal(t, "c", got.ClientToken)
}

func TestConnSQLiteStore_History(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.UnixMilli(1_700_000_000_000))
	s, err := OpenConnSQLiteStore(filepath.Join(t.TempDir(), "conn.db"), clk)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, ok, err := s.LatestConn()
	require.NoError(t, err)
	assert.False(t, ok)

	first, err := domain.ParseConnInfo(json.RawMessage(rawConn))
	require.NoError(t, err)
	require.NoError(t, s.SaveConn(first))
	clk.Add(time.Minute)
	require.NoError(t, s.SaveConn(domain.ConnInfo{Wid: "second", ClientToken: "ct2"}))

	latest, ok, err := s.LatestConn()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", latest.Wid)

	hist, err := s.History(0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "second", hist[0].Info.Wid)
	assert.Equal(t, clk.Now().UnixMilli(), hist[0].ReceivedAt.UnixMilli())
	assert.JSONEq(t, rawConn, string(hist[1].Info.Raw))

	one, err := s.History(1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestConnSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conn.db")
	s, err := OpenConnSQLiteStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.SaveConn(domain.ConnInfo{Wid: "kept"}))
	require.NoError(t, s.Close())

	s, err = OpenConnSQLiteStore(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	got, ok, err := s.LatestConn()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "kept", got.Wid)
}
