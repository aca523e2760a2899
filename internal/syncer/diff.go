package syncer

import (
	"slices"

	"github.com/JakeFAU/domain-sentinel/internal/pipeline"
)

// Plan is the set difference between a remote record list and local ids.
type Plan struct {
	Create []pipeline.DomainRecord
	Update []pipeline.DomainRecord
	Remove []int64
}

// Diff computes create = remote \ local, update = remote ∩ local, and
// remove = local \ remote by id. Duplicate remote ids keep the last record.
func Diff(remote []pipeline.DomainRecord, localIDs []int64) Plan {
	local := make(map[int64]struct{}, len(localIDs))
	for _, id := range localIDs {
		local[id] = struct{}{}
	}

	latest := make(map[int64]int, len(remote))
	order := make([]int64, 0, len(remote))
	for i, rec := range remote {
		if _, seen := latest[rec.ID]; !seen {
			order = append(order, rec.ID)
		}
		latest[rec.ID] = i
	}

	var plan Plan
	for _, id := range order {
		rec := remote[latest[id]]
		if _, ok := local[id]; ok {
			plan.Update = append(plan.Update, rec)
		} else {
			plan.Create = append(plan.Create, rec)
		}
	}
	for id := range local {
		if _, ok := latest[id]; !ok {
			plan.Remove = append(plan.Remove, id)
		}
	}
	slices.Sort(plan.Remove)
	return plan
}
