package ipc

import (
	"sort"
	"strconv"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/rybkr/timelapse/internal/checkpoint"
	"github.com/rybkr/timelapse/internal/errkind"
	"github.com/rybkr/timelapse/internal/journal"
	"github.com/rybkr/timelapse/internal/repo"
)

// minPrefixLen is the shortest id prefix spec.md section 6 allows to resolve
// a checkpoint, below which a typo is too likely to be worth disambiguating.
const minPrefixLen = 4

// ResolveRef resolves one of the reference forms spec.md section 6 lists
// (full id, an unambiguous id prefix of at least minPrefixLen characters, a
// pin name, "HEAD", or "HEAD~k") against j and r. On failure it returns an
// *errkind.Error of kind AmbiguousRef or NotFound, with suggestions filled
// in by the caller via Suggest.
func ResolveRef(ref string, j *journal.Journal, r *repo.Repository) (checkpoint.ID, error) {
	if ref == "" {
		return checkpoint.ID{}, errkind.New(errkind.NotFound, "ipc: empty reference")
	}

	if ref == "HEAD" {
		return r.ReadHead()
	}
	if strings.HasPrefix(ref, "HEAD~") {
		return resolveHeadAncestor(ref, j, r)
	}

	if id, ok, err := r.ResolvePin(ref); err != nil {
		return checkpoint.ID{}, err
	} else if ok {
		return id, nil
	}

	if id, err := checkpoint.ParseID(ref); err == nil {
		if _, ok := j.Get(id); ok {
			return id, nil
		}
		return checkpoint.ID{}, errkind.New(errkind.NotFound, "ipc: no checkpoint "+ref)
	}

	if len(ref) >= minPrefixLen {
		matches := matchPrefix(j, ref)
		switch len(matches) {
		case 0:
			// fall through to NotFound below
		case 1:
			return matches[0], nil
		default:
			return checkpoint.ID{}, errkind.New(errkind.AmbiguousRef, "ipc: prefix "+ref+" matches "+strconv.Itoa(len(matches))+" checkpoints")
		}
	}

	return checkpoint.ID{}, errkind.New(errkind.NotFound, "ipc: no reference resolves "+ref)
}

func matchPrefix(j *journal.Journal, prefix string) []checkpoint.ID {
	var out []checkpoint.ID
	for _, cp := range j.All() {
		if cp.ID.HasPrefix(prefix) {
			out = append(out, cp.ID)
		}
	}
	return out
}

// resolveHeadAncestor resolves "HEAD~k": the k-th ancestor of HEAD by
// walking Parent links k times.
func resolveHeadAncestor(ref string, j *journal.Journal, r *repo.Repository) (checkpoint.ID, error) {
	kStr := strings.TrimPrefix(ref, "HEAD~")
	k, err := strconv.Atoi(kStr)
	if err != nil || k < 0 {
		return checkpoint.ID{}, errkind.New(errkind.NotFound, "ipc: invalid reference "+ref)
	}

	id, err := r.ReadHead()
	if err != nil {
		return checkpoint.ID{}, err
	}
	for i := 0; i < k; i++ {
		cp, ok := j.Get(id)
		if !ok {
			return checkpoint.ID{}, errkind.New(errkind.NotFound, "ipc: "+ref+" has no ancestor at depth "+strconv.Itoa(i+1))
		}
		if cp.Parent.IsZero() {
			return checkpoint.ID{}, errkind.New(errkind.NotFound, "ipc: "+ref+" goes past the first checkpoint")
		}
		id = cp.Parent
	}
	return id, nil
}

// Suggest returns up to 3 "did you mean" candidates for a reference that
// failed to resolve, fuzzy-matched against every pin name and every
// checkpoint id's hex string, grounded on the same fuzzy.RankFindFold the
// teacher's command-suggestion package uses for mistyped subcommands.
func Suggest(ref string, j *journal.Journal, r *repo.Repository) []string {
	var candidates []string
	if pins, err := r.ListPins(); err == nil {
		for name := range pins {
			candidates = append(candidates, name)
		}
	}
	for _, cp := range j.All() {
		candidates = append(candidates, cp.ID.String())
	}

	ranks := fuzzy.RankFindFold(ref, candidates)
	sort.Sort(ranks)

	out := make([]string, 0, 3)
	for i, rnk := range ranks {
		if i >= 3 {
			break
		}
		out = append(out, rnk.Target)
	}
	return out
}
