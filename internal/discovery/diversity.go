package discovery

import "github.com/hitoshi/meguri/internal/model"

// DiversityResult はドメイン多様性フィルタの適用結果。
type DiversityResult struct {
	Pool    []model.Content
	Cap     int  // 実際に適用されたキャップ値
	Relaxed bool // 緩和が発動したかどうか（観測可能にする）
}

// ApplyDiversityCap は1ドメインあたりの候補数をキャップする。
// 相対順序は維持する。大量インポートされた単一ドメインが
// プール全体を占有するのを防ぐ。
//
// キャップ適用後の候補数がMinViablePoolを下回る場合は、
// キャップをRelaxFactor倍に緩和して再適用する。緩和は
// 利用可能な多様性から決まる決定的な関数であり、その発動は
// DiversityResult.Relaxedとして呼び出し側に通知される。
func ApplyDiversityCap(pool []model.Content, cfg SelectionConfig) DiversityResult {
	filtered := capByDomain(pool, cfg.DiversityCap)

	if len(filtered) < cfg.MinViablePool && len(filtered) < len(pool) {
		relaxedCap := cfg.DiversityCap * cfg.RelaxFactor
		return DiversityResult{
			Pool:    capByDomain(pool, relaxedCap),
			Cap:     relaxedCap,
			Relaxed: true,
		}
	}

	return DiversityResult{
		Pool: filtered,
		Cap:  cfg.DiversityCap,
	}
}

// capByDomain は各ドメインから最大cap件までを相対順序を保って残す。
func capByDomain(pool []model.Content, cap int) []model.Content {
	counts := make(map[string]int)
	filtered := make([]model.Content, 0, len(pool))

	for _, c := range pool {
		if counts[c.Domain] >= cap {
			continue
		}
		counts[c.Domain]++
		filtered = append(filtered, c)
	}

	return filtered
}
