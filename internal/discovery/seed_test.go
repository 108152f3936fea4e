package discovery

import (
	"testing"
	"time"
)

// TestSessionSeed_StableWithinWindow は同一時間窓内の呼び出しが
// 同じシードを返すことを検証する。
func TestSessionSeed_StableWithinWindow(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 5, 0, 0, time.UTC)

	s1 := SessionSeed("user-1", base)
	s2 := SessionSeed("user-1", base.Add(30*time.Minute))

	if s1 != s2 {
		t.Errorf("同一窓内のシードが一致しない: %d != %d", s1, s2)
	}
}

func TestSessionSeed_ChangesAcrossWindows(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 5, 0, 0, time.UTC)

	s1 := SessionSeed("user-1", base)
	s2 := SessionSeed("user-1", base.Add(SessionWindow))

	if s1 == s2 {
		t.Error("窓を跨いだシードは変化すべき")
	}
}

func TestSessionSeed_DiffersPerUser(t *testing.T) {
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	if SessionSeed("user-1", at) == SessionSeed("user-2", at) {
		t.Error("異なるユーザーのシードは異なるべき")
	}
}

func TestSessionSeed_TimezoneIndependent(t *testing.T) {
	utc := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	jst := utc.In(time.FixedZone("JST", 9*60*60))

	if SessionSeed("user-1", utc) != SessionSeed("user-1", jst) {
		t.Error("シードはタイムゾーン表現に依存すべきではない")
	}
}

func TestSortForSeed_AlternatesByParity(t *testing.T) {
	even := SortForSeed(2)
	odd := SortForSeed(3)

	if even == odd {
		t.Error("偶数シードと奇数シードでソートキーは異なるべき")
	}
}
