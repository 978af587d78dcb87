package analytics

import (
	"sort"
	"strings"

	"github.com/yinz628/email-filter-sub001/internal/domain"
)

// Transition is one observed consecutive campaign pair across recipient
// paths. Recipients counts distinct recipients that made the hop; Ratio is
// Recipients over the total distinct recipients in the path set.
type Transition struct {
	FromCampaignID string  `json:"from_campaign_id"`
	ToCampaignID   string  `json:"to_campaign_id"`
	Recipients     int64   `json:"recipients"`
	Ratio          float64 `json:"ratio"`
}

// Branch is one full ordered campaign tuple shared by a set of recipients.
type Branch struct {
	CampaignIDs []string `json:"campaign_ids"`
	Recipients  int64    `json:"recipients"`
	Percentage  float64  `json:"percentage"`
	IsValuable  bool     `json:"is_valuable"`
}

// BranchAnalysis buckets branches by share of total recipients.
type BranchAnalysis struct {
	TotalRecipients int64    `json:"total_recipients"`
	MainPaths       []Branch `json:"main_paths"`
	SecondaryPaths  []Branch `json:"secondary_paths"`
	ValuablePaths   []Branch `json:"valuable_paths"`
}

// Neighbor is a predecessor or successor of a valuable campaign, ranked by
// how many recipients traversed the adjacent hop.
type Neighbor struct {
	CampaignID string `json:"campaign_id"`
	Recipients int64  `json:"recipients"`
}

// ValuableCampaign is the per-campaign view of the valuable analysis.
type ValuableCampaign struct {
	Campaign     domain.Campaign `json:"campaign"`
	Level        int             `json:"level"`
	Predecessors []Neighbor      `json:"predecessors"`
	Successors   []Neighbor      `json:"successors"`
}

// pathArena interns campaign ids to dense node indices so the graph passes
// work on ints.
type pathArena struct {
	ids   []string
	index map[string]int
}

func newArena() *pathArena {
	return &pathArena{index: make(map[string]int)}
}

func (a *pathArena) node(id string) int {
	if n, ok := a.index[id]; ok {
		return n
	}
	n := len(a.ids)
	a.ids = append(a.ids, id)
	a.index[id] = n
	return n
}

// recipientSequences groups path rows by recipient and orders each group by
// sequence_order ascending. Input order is not assumed.
func recipientSequences(paths []domain.RecipientPath) map[string][]domain.RecipientPath {
	byRecipient := make(map[string][]domain.RecipientPath)
	for _, p := range paths {
		byRecipient[p.Recipient] = append(byRecipient[p.Recipient], p)
	}
	for _, seq := range byRecipient {
		sort.Slice(seq, func(i, j int) bool { return seq[i].SequenceOrder < seq[j].SequenceOrder })
	}
	return byRecipient
}

type edge struct{ from, to int }

// collectEdges derives the distinct edge set and per-edge recipient counts
// from consecutive pairs in each recipient sequence. A campaign appears once
// per path, so a pair cannot repeat within one recipient.
func collectEdges(arena *pathArena, sequences map[string][]domain.RecipientPath) map[edge]int64 {
	edges := make(map[edge]int64)
	for _, seq := range sequences {
		for i := 1; i < len(seq); i++ {
			e := edge{arena.node(seq[i-1].CampaignID), arena.node(seq[i].CampaignID)}
			edges[e]++
		}
		// Register isolated single-campaign paths too.
		if len(seq) == 1 {
			arena.node(seq[0].CampaignID)
		}
	}
	return edges
}

// kahnLevels runs the level assignment over the arena. seeds are the BFS
// starting nodes at level 1; nodes never reached (cycles, isolated) default
// to level 1.
func kahnLevels(arena *pathArena, edges map[edge]int64, seeds []int) []int {
	n := len(arena.ids)
	inDegree := make([]int, n)
	adj := make([][]int, n)
	for e := range edges {
		adj[e.from] = append(adj[e.from], e.to)
		inDegree[e.to]++
	}
	for _, nbrs := range adj {
		sort.Ints(nbrs)
	}

	levels := make([]int, n)
	queue := make([]int, 0, n)
	for _, s := range seeds {
		if levels[s] == 0 {
			levels[s] = 1
			queue = append(queue, s)
		}
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if lvl := levels[cur] + 1; lvl > levels[next] {
				levels[next] = lvl
			}
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	// Cycle members and isolated nodes keep the floor level.
	for i := range levels {
		if levels[i] == 0 {
			levels[i] = 1
		}
	}
	return levels
}

func zeroInDegreeSeeds(arena *pathArena, edges map[edge]int64) []int {
	hasIncoming := make([]bool, len(arena.ids))
	for e := range edges {
		hasIncoming[e.to] = true
	}
	var seeds []int
	for i := range arena.ids {
		if !hasIncoming[i] {
			seeds = append(seeds, i)
		}
	}
	return seeds
}

// calculateDAGLevels assigns a level to every campaign appearing in the path
// set. Zero-in-degree campaigns sit at level 1; every other reachable
// campaign is one past its deepest predecessor.
func calculateDAGLevels(paths []domain.RecipientPath) map[string]int {
	arena := newArena()
	edges := collectEdges(arena, recipientSequences(paths))
	levels := kahnLevels(arena, edges, zeroInDegreeSeeds(arena, edges))

	out := make(map[string]int, len(arena.ids))
	for i, id := range arena.ids {
		out[id] = levels[i]
	}
	return out
}

// calculateNewUserDAGLevels is the level assignment restricted to paths of
// new-user recipients, seeded from confirmed root campaigns. With no
// confirmed root in the subgraph it falls back to zero-in-degree seeding.
func calculateNewUserDAGLevels(paths []domain.RecipientPath, rootIDs map[string]bool) map[string]int {
	var newUser []domain.RecipientPath
	for _, p := range paths {
		if p.IsNewUser {
			newUser = append(newUser, p)
		}
	}

	arena := newArena()
	edges := collectEdges(arena, recipientSequences(newUser))

	var seeds []int
	for id, n := range arena.index {
		if rootIDs[id] {
			seeds = append(seeds, n)
		}
	}
	sort.Ints(seeds)
	if len(seeds) == 0 {
		seeds = zeroInDegreeSeeds(arena, edges)
	}

	levels := kahnLevels(arena, edges, seeds)
	out := make(map[string]int, len(arena.ids))
	for i, id := range arena.ids {
		out[id] = levels[i]
	}
	return out
}

// campaignTransitions counts distinct recipients per consecutive pair,
// sorted by descending recipient count.
func campaignTransitions(paths []domain.RecipientPath) []Transition {
	sequences := recipientSequences(paths)
	total := int64(len(sequences))

	type pair struct{ from, to string }
	counts := make(map[pair]int64)
	for _, seq := range sequences {
		for i := 1; i < len(seq); i++ {
			counts[pair{seq[i-1].CampaignID, seq[i].CampaignID}]++
		}
	}

	out := make([]Transition, 0, len(counts))
	for p, n := range counts {
		t := Transition{FromCampaignID: p.from, ToCampaignID: p.to, Recipients: n}
		if total > 0 {
			t.Ratio = float64(n) / float64(total)
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Recipients != out[j].Recipients {
			return out[i].Recipients > out[j].Recipients
		}
		if out[i].FromCampaignID != out[j].FromCampaignID {
			return out[i].FromCampaignID < out[j].FromCampaignID
		}
		return out[i].ToCampaignID < out[j].ToCampaignID
	})
	return out
}

const (
	mainPathLimit      = 10
	secondaryPathLimit = 20
	valuablePathLimit  = 20
	neighborLimit      = 5
)

// analyzeBranches groups paths by the full ordered campaign tuple and
// buckets the resulting branches by recipient share. mainThreshold is a
// percentage (5 means 5%).
func analyzeBranches(paths []domain.RecipientPath, campaigns map[string]domain.Campaign, mainThreshold float64) BranchAnalysis {
	sequences := recipientSequences(paths)
	total := int64(len(sequences))

	byTuple := make(map[string]*Branch)
	for _, seq := range sequences {
		ids := make([]string, len(seq))
		for i, p := range seq {
			ids[i] = p.CampaignID
		}
		key := strings.Join(ids, "\x00")
		b, ok := byTuple[key]
		if !ok {
			b = &Branch{CampaignIDs: ids}
			for _, id := range ids {
				if c, ok := campaigns[id]; ok && c.IsValuable() {
					b.IsValuable = true
					break
				}
			}
			byTuple[key] = b
		}
		b.Recipients++
	}

	branches := make([]Branch, 0, len(byTuple))
	for _, b := range byTuple {
		if total > 0 {
			b.Percentage = 100 * float64(b.Recipients) / float64(total)
		}
		branches = append(branches, *b)
	}
	sort.Slice(branches, func(i, j int) bool {
		if branches[i].Recipients != branches[j].Recipients {
			return branches[i].Recipients > branches[j].Recipients
		}
		return strings.Join(branches[i].CampaignIDs, ",") < strings.Join(branches[j].CampaignIDs, ",")
	})

	res := BranchAnalysis{TotalRecipients: total}
	for _, b := range branches {
		switch {
		case b.Percentage >= mainThreshold:
			if len(res.MainPaths) < mainPathLimit {
				res.MainPaths = append(res.MainPaths, b)
			}
		case b.Percentage >= 1:
			if len(res.SecondaryPaths) < secondaryPathLimit {
				res.SecondaryPaths = append(res.SecondaryPaths, b)
			}
		}
		if b.IsValuable && len(res.ValuablePaths) < valuablePathLimit {
			res.ValuablePaths = append(res.ValuablePaths, b)
		}
	}
	return res
}

// analyzeValuableCampaigns attaches top predecessors, top successors, and
// the DAG level to every tag-valuable campaign.
func analyzeValuableCampaigns(paths []domain.RecipientPath, campaigns []domain.Campaign) []ValuableCampaign {
	sequences := recipientSequences(paths)
	levels := calculateDAGLevels(paths)

	preds := make(map[string]map[string]int64)
	succs := make(map[string]map[string]int64)
	bump := func(m map[string]map[string]int64, campaign, neighbor string) {
		inner, ok := m[campaign]
		if !ok {
			inner = make(map[string]int64)
			m[campaign] = inner
		}
		inner[neighbor]++
	}
	for _, seq := range sequences {
		for i := 1; i < len(seq); i++ {
			bump(preds, seq[i].CampaignID, seq[i-1].CampaignID)
			bump(succs, seq[i-1].CampaignID, seq[i].CampaignID)
		}
	}

	topN := func(m map[string]int64) []Neighbor {
		out := make([]Neighbor, 0, len(m))
		for id, n := range m {
			out = append(out, Neighbor{CampaignID: id, Recipients: n})
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].Recipients != out[j].Recipients {
				return out[i].Recipients > out[j].Recipients
			}
			return out[i].CampaignID < out[j].CampaignID
		})
		if len(out) > neighborLimit {
			out = out[:neighborLimit]
		}
		return out
	}

	var out []ValuableCampaign
	for _, c := range campaigns {
		if !c.IsValuable() {
			continue
		}
		out = append(out, ValuableCampaign{
			Campaign:     c,
			Level:        levels[c.ID],
			Predecessors: topN(preds[c.ID]),
			Successors:   topN(succs[c.ID]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Campaign.ID < out[j].Campaign.ID })
	return out
}
