package cache

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// KeyParts is everything that changes the result of a metric query.
type KeyParts struct {
	MetricID    int64
	Kind        string
	Fingerprint string
	Dialect     string
	Period      string
	WindowStart string
	WindowEnd   string
	Dimension   string
	Filters     []string
	Sort        string
	RankLimit   int
}

// Key renders metric:<id>:<kind>:<hash>. Filter order does not matter.
func Key(p KeyParts) string {
	filters := slices.Clone(p.Filters)
	slices.Sort(filters)

	h := xxhash.New()
	write := func(s string) {
		_, _ = h.WriteString(s)
		_, _ = h.Write([]byte{0})
	}

	write(p.Fingerprint)
	write(p.Dialect)
	write(p.Period)
	write(p.WindowStart)
	write(p.WindowEnd)
	write(p.Dimension)
	write(strconv.Itoa(len(filters)))
	for _, f := range filters {
		write(f)
	}
	write(p.Sort)
	write(strconv.Itoa(p.RankLimit))

	return fmt.Sprintf("metric:%d:%s:%016x", p.MetricID, p.Kind, h.Sum64())
}
