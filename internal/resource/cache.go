package resource

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/OpenPrinting/goipp"

	"github.com/thilo-hub/ippsample/internal/model"
)

// templateCache memoizes a template resource's decoded attribute set
// so Create-Printer / job-creation don't re-copy a template's full IPP
// collection on every request (spec §4.8). Bounded at 64 entries --
// far more templates than a single server realistically installs.
var templateCache, _ = lru.New[int64, goipp.Attributes](64)

// InvalidateTemplate drops res's cached attribute set; callers must
// call this whenever a resource's Attrs change (Send-Resource-Data,
// Set-Resource-Attributes).
func InvalidateTemplate(id int64) {
	templateCache.Remove(id)
}

// cachedAttrs returns res's attribute set, populating templateCache on
// a miss. Caller must hold res.RWLock for reading.
func cachedAttrs(res *model.Resource) goipp.Attributes {
	if attrs, ok := templateCache.Get(res.ID); ok {
		return attrs
	}
	templateCache.Add(res.ID, res.Attrs)
	return res.Attrs
}
