// Package catalog groups metric names by the group tags declared in
// configuration and orders them for presentation.
package catalog

import (
	"regexp"
	"sort"
	"strings"

	"hawkeye-pipeline/internal/config"
	"hawkeye-pipeline/internal/model"
)

// OtherGroup collects names no configured keyword claims.
const OtherGroup = "Other"

// preferredGroups lead the group order when present.
var preferredGroups = []string{"err/warn", "timing", "congestion", "utilization"}

// staSuffixes split STA metric names into a mode/corner prefix and a
// metric suffix so one corner's metrics stay together.
var staSuffixes = []string{
	"_max_cap_num", "_max_cap_worst",
	"_max_tran_num", "_max_tran_worst",
	"_noise_above_low_num", "_noise_above_low_worst",
	"_noise_below_high_num", "_noise_below_high_worst",
	"_s_wns_", "_s_tns_", "_s_num_",
	"_h_wns_", "_h_tns_", "_h_num_",
}

// placeholders whose values may themselves contain underscores
var multiPartPlaceholders = map[string]bool{"corner": true, "noise_type": true}

var placeholderRe = regexp.MustCompile(`\{[a-z_]+\}`)

// KeywordGroup is one presentation group.
type KeywordGroup struct {
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
}

type entry struct {
	name     string
	group    string
	prefix   string
	template *regexp.Regexp
}

// Catalog resolves metric names to groups. It is immutable after New and
// safe for concurrent use.
type Catalog struct {
	entries []entry
}

// New indexes every grouped keyword of cfg: tasks in declaration order,
// then task templates.
func New(cfg *config.Config) *Catalog {
	c := &Catalog{}
	if cfg == nil {
		return c
	}
	add := func(tasks config.Ordered[*config.Task]) {
		for _, name := range tasks.Keys {
			t := tasks.Values[name]
			if t == nil {
				continue
			}
			for _, kw := range t.Keywords {
				if kw.Group == "" || kw.Name == "" {
					continue
				}
				c.entries = append(c.entries, newEntry(kw))
			}
		}
	}
	add(cfg.Tasks)
	add(cfg.TaskTemplates)
	return c
}

func newEntry(kw model.Keyword) entry {
	e := entry{name: kw.Name, group: kw.Group}
	if !model.HasPlaceholder(kw.Name) {
		e.prefix = kw.Name + "_"
		return e
	}
	e.prefix = kw.Name[:strings.IndexByte(kw.Name, '{')]
	e.template = templateRegexp(kw.Name)
	return e
}

// templateRegexp turns "{mode}_{corner}_s_wns_{path_type}" into an anchored
// pattern with one lazy class per placeholder.
func templateRegexp(name string) *regexp.Regexp {
	var b strings.Builder
	b.WriteByte('^')
	last := 0
	for _, loc := range placeholderRe.FindAllStringIndex(name, -1) {
		b.WriteString(regexp.QuoteMeta(name[last:loc[0]]))
		if multiPartPlaceholders[name[loc[0]+1:loc[1]-1]] {
			b.WriteString(`[^_]+?(?:_[^_]+?)*?`)
		} else {
			b.WriteString(`[^_]+?`)
		}
		last = loc[1]
	}
	b.WriteString(regexp.QuoteMeta(name[last:]))
	b.WriteByte('$')
	return regexp.MustCompile(b.String())
}

// GroupOf returns the configured group of a metric name, or OtherGroup.
// Exact names win over prefixes, prefixes over template patterns.
func (c *Catalog) GroupOf(name string) string {
	for _, e := range c.entries {
		if e.name == name {
			return e.group
		}
	}
	for _, e := range c.entries {
		if e.prefix != "" && strings.HasPrefix(name, e.prefix) {
			return e.group
		}
	}
	for _, e := range c.entries {
		if e.template != nil && e.template.MatchString(name) {
			return e.group
		}
	}
	return OtherGroup
}

// GroupAndOrder buckets names and orders groups and their members.
func (c *Catalog) GroupAndOrder(names []string) []KeywordGroup {
	byGroup := make(map[string][]string)
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		g := c.GroupOf(n)
		byGroup[g] = append(byGroup[g], n)
	}

	out := make([]KeywordGroup, 0, len(byGroup))
	for _, g := range orderGroups(byGroup) {
		members := byGroup[g]
		sort.Slice(members, func(i, j int) bool { return Less(members[i], members[j]) })
		out = append(out, KeywordGroup{Name: g, Keywords: members})
	}
	return out
}

// GroupAndOrder is a convenience for one-off calls.
func GroupAndOrder(names []string, cfg *config.Config) []KeywordGroup {
	return New(cfg).GroupAndOrder(names)
}

func orderGroups(byGroup map[string][]string) []string {
	order := make([]string, 0, len(byGroup))
	taken := make(map[string]bool)
	for _, g := range preferredGroups {
		if _, ok := byGroup[g]; ok {
			order = append(order, g)
			taken[g] = true
		}
	}
	var rest []string
	for g := range byGroup {
		if !taken[g] && g != OtherGroup {
			rest = append(rest, g)
		}
	}
	sort.Strings(rest)
	order = append(order, rest...)
	if _, ok := byGroup[OtherGroup]; ok {
		order = append(order, OtherGroup)
	}
	return order
}
