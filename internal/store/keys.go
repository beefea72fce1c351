package store

import (
	"bytes"
	"fmt"

	"github.com/ppiankov/claimledger/internal/model"
)

// Key layout:
//
//	claim/<id>                         claim record (JSON)
//	scope/<scope>\x00<id>              scope membership
//	out/<source>\x00<type>\x00<target> edge indexed by source
//	in/<target>\x00<type>\x00<source>  edge indexed by target
const sep = "\x00"

var (
	claimPrefix = []byte("claim/")
	scopePrefix = []byte("scope/")
	outPrefix   = []byte("out/")
	inPrefix    = []byte("in/")
)

func claimKey(id model.ClaimID) []byte {
	return append(append([]byte{}, claimPrefix...), id...)
}

func scopeKey(scope string, id model.ClaimID) []byte {
	return []byte(string(scopePrefix) + scope + sep + string(id))
}

func scopeMembersPrefix(scope string) []byte {
	return []byte(string(scopePrefix) + scope + sep)
}

func outKey(r model.Relation) []byte {
	return []byte(string(outPrefix) + string(r.Source) + sep + string(r.Type) + sep + string(r.Target))
}

func inKey(r model.Relation) []byte {
	return []byte(string(inPrefix) + string(r.Target) + sep + string(r.Type) + sep + string(r.Source))
}

// adjacencyPrefix narrows an out/ or in/ scan to one claim and, optionally, one type
func adjacencyPrefix(base []byte, id model.ClaimID, typ model.RelationType) []byte {
	p := string(base) + string(id) + sep
	if typ != "" {
		p += string(typ) + sep
	}
	return []byte(p)
}

// decodeEdge parses an out/ or in/ key back into a relation
func decodeEdge(key []byte) (model.Relation, error) {
	var outgoing bool
	switch {
	case bytes.HasPrefix(key, outPrefix):
		outgoing = true
		key = key[len(outPrefix):]
	case bytes.HasPrefix(key, inPrefix):
		key = key[len(inPrefix):]
	default:
		return model.Relation{}, fmt.Errorf("not an edge key: %q", key)
	}

	parts := bytes.Split(key, []byte(sep))
	if len(parts) != 3 {
		return model.Relation{}, fmt.Errorf("malformed edge key: %q", key)
	}

	first, typ, second := model.ClaimID(parts[0]), model.RelationType(parts[1]), model.ClaimID(parts[2])
	if outgoing {
		return model.Relation{Source: first, Target: second, Type: typ}, nil
	}
	return model.Relation{Source: second, Target: first, Type: typ}, nil
}

// validKeyPart reports whether s can be embedded in a key without ambiguity
func validKeyPart(s string) bool {
	return s != "" && !bytes.Contains([]byte(s), []byte(sep))
}
