package discovery

import (
	"encoding/binary"
	"hash/fnv"
	"time"

	"github.com/hitoshi/meguri/internal/repository"
)

// SessionWindow はセッションシードの時間窓。
// 同一窓内のリクエストは同じシードを共有し、窓を跨ぐとシードが変わる。
const SessionWindow = time.Hour

// SessionSeed はユーザーIDと時間窓から決定的なシードを導出する純粋関数。
// 「セッション内では一貫、セッションを跨ぐと変化」というシャッフル挙動を、
// グローバル状態を持たずに実現する。導出されたシードは乱数源と
// 候補クエリのソートキー選択の両方に渡される。
func SessionSeed(userID string, at time.Time) int64 {
	h := fnv.New64a()
	h.Write([]byte(userID))

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(at.UTC().Truncate(SessionWindow).Unix()))
	h.Write(buf[:])

	return int64(h.Sum64())
}

// SortForSeed はシードから候補クエリのソートキーを決定する。
// 時間バケットごとにrecencyとqualityを交互に切り替えることで、
// 単一の決定的な順序に起因するスーパーセットの固定化を避ける。
func SortForSeed(seed int64) repository.CandidateSort {
	if seed%2 == 0 {
		return repository.CandidateSortRecency
	}
	return repository.CandidateSortQuality
}
