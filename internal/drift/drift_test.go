package drift

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchsync/internal/patch"
	"patchsync/pkg/contract"
)

var layout = contract.Layout{Root: "translation"}

func doc(id string, paths ...string) contract.Document {
	d := contract.Document{ID: contract.FileID(id)}
	for _, p := range paths {
		d.Leaves = append(d.Leaves, contract.Leaf{Path: p, Value: contract.EncodeText("v" + p)})
	}
	return d
}

func file(paths ...string) *patch.File {
	f := &patch.File{}
	for _, p := range paths {
		f.Append(patch.NewRecord(p, contract.EncodeText("v"+p), contract.EncodeText("t"+p)))
	}
	return f
}

func TestClassifyMissingFile(t *testing.T) {
	got := Classify(doc("a.item", "/name", "/description"), nil, layout)
	require.Len(t, got, 1)
	assert.Equal(t, contract.Finding{Kind: contract.MissingFile, Document: "a.item", PatchPath: "translation/a.item.patch"}, got[0])
}

// 场景 B：补丁文件有源中不存在的记录 → OrphanedEntry
func TestClassifyOrphanedEntry(t *testing.T) {
	got := Classify(doc("a.item", "/name"), file("/name", "/oldField"), layout)
	require.Len(t, got, 1)
	assert.Equal(t, contract.OrphanedEntry, got[0].Kind)
	assert.Equal(t, "/oldField", got[0].KeyPath)
	assert.Equal(t, "translation/a.item.patch", got[0].PatchPath)
}

// 场景 C：无法解析的补丁文件以空文件参与比较 → 每个源叶子都是 MissingEntry
func TestClassifyUnparseableIsEmpty(t *testing.T) {
	d := doc("a.item", "/name", "/description")
	got := Classify(d, &patch.File{}, layout)
	require.Len(t, got, 2)
	for i, p := range []string{"/name", "/description"} {
		assert.Equal(t, contract.MissingEntry, got[i].Kind)
		assert.Equal(t, p, got[i].KeyPath)
	}
}

func TestClassifyNoDriftForIntersection(t *testing.T) {
	got := Classify(doc("a.item", "/a", "/b"), file("/b", "/a"), layout)
	assert.Empty(t, got)
}

func TestClassifyDuplicatesEmittedOnce(t *testing.T) {
	got := Classify(doc("a.item", "/x", "/x"), file("/y", "/y"), layout)
	require.Len(t, got, 2)
	assert.Equal(t, contract.MissingEntry, got[0].Kind)
	assert.Equal(t, contract.OrphanedEntry, got[1].Kind)
}

// 差集正确性：MissingEntry = S \ T，OrphanedEntry = T \ S，交集不产出。
func TestClassifySetDifferenceProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	universe := make([]string, 40)
	for i := range universe {
		universe[i] = fmt.Sprintf("/k%d/name", i)
	}
	for round := 0; round < 200; round++ {
		var s, tt []string
		inS := map[string]bool{}
		inT := map[string]bool{}
		for _, p := range universe {
			if rng.Intn(2) == 0 {
				s = append(s, p)
				inS[p] = true
			}
			if rng.Intn(2) == 0 {
				tt = append(tt, p)
				inT[p] = true
			}
		}
		got := Classify(doc("d.item", s...), file(tt...), layout)
		var missing, orphaned []string
		for _, f := range got {
			switch f.Kind {
			case contract.MissingEntry:
				missing = append(missing, f.KeyPath)
			case contract.OrphanedEntry:
				orphaned = append(orphaned, f.KeyPath)
			default:
				t.Fatalf("unexpected kind %s", f.Kind)
			}
		}
		var wantMissing, wantOrphaned []string
		for _, p := range s {
			if !inT[p] {
				wantMissing = append(wantMissing, p)
			}
		}
		for _, p := range tt {
			if !inS[p] {
				wantOrphaned = append(wantOrphaned, p)
			}
		}
		require.Equal(t, wantMissing, missing, "round %d", round)
		require.Equal(t, wantOrphaned, orphaned, "round %d", round)
	}
}

func TestClassifyIdempotent(t *testing.T) {
	d := doc("a.item", "/a", "/b", "/c")
	f := file("/b", "/z")
	first := Classify(d, f, layout)
	second := Classify(d, f, layout)
	assert.Equal(t, first, second)
}

func TestOrphans(t *testing.T) {
	known := map[contract.FileID]struct{}{"a.item": {}, "dir/b.object": {}}
	got := Orphans(known, []contract.FileID{"a.item", "gone.item", "dir/b.object", "dir/c.tech"}, layout)
	require.Len(t, got, 2)
	assert.Equal(t, contract.MissingSourceDocument, got[0].Kind)
	assert.Equal(t, "translation/gone.item.patch", got[0].PatchPath)
	assert.Equal(t, contract.FileID("dir/c.tech"), got[1].Document)
	assert.Empty(t, got[0].KeyPath)
}

func TestStale(t *testing.T) {
	d := contract.Document{ID: "a.item", Leaves: []contract.Leaf{
		{Path: "/name", Value: contract.EncodeText("长剑")},
		{Path: "/description", Value: contract.EncodeText("锋利")},
		{Path: "/count", Value: json.RawMessage(`3`)},
	}}
	f, err := patch.Parse([]byte(`[
		{"path":"/name","op":"replace","source":"剑","value":"Sword"},
		{"path":"/description","op":"replace","source":"锋利","value":"Sharp"},
		{"path":"/count","op":"replace","source":3,"value":3},
		{"path":"/gone","op":"replace","source":"x","value":"y"}
	]`))
	require.NoError(t, err)

	got := Stale(d, f)
	require.Len(t, got, 1)
	assert.Equal(t, "/name", got[0].KeyPath)
	diff := got[0].Diff(false)
	assert.True(t, strings.Contains(diff, "{+长+}"), diff)

	assert.Nil(t, Stale(d, nil))
}

func TestStaleDiffText(t *testing.T) {
	e := StaleEntry{Recorded: contract.EncodeText("sharp blade"), Current: contract.EncodeText("dull blade")}
	assert.Equal(t, "[-sharp-]{+dull+} blade", e.Diff(false))
	assert.NotEmpty(t, e.Diff(true))
}
