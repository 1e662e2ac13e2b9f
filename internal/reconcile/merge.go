// Package reconcile decides, per entity, which of two independently edited
// copies survives a replication round.
package reconcile

import "fmt"

// Decision names the outcome of merging a remote copy into the local store.
type Decision int

const (
	// DecisionInsert means the entity was unknown locally; the remote copy is stored.
	DecisionInsert Decision = iota + 1
	// DecisionAcceptRemote means the remote copy is newer, or wins a tie, and replaces the local one.
	DecisionAcceptRemote
	// DecisionIdentical means both copies carry the same content; nothing changes.
	DecisionIdentical
	// DecisionKeepLocal means the local copy is newer, or wins a tie, and differs; it is a resolved conflict.
	DecisionKeepLocal
)

func (d Decision) String() string {
	switch d {
	case DecisionInsert:
		return "insert"
	case DecisionAcceptRemote:
		return "accept_remote"
	case DecisionIdentical:
		return "identical"
	case DecisionKeepLocal:
		return "keep_local"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Writes reports whether the winner must be persisted locally.
func (d Decision) Writes() bool {
	return d == DecisionInsert || d == DecisionAcceptRemote
}

// IsConflict reports whether the decision counts as a resolved conflict.
func (d Decision) IsConflict() bool {
	return d == DecisionKeepLocal
}

// Versioned is a mutable entity that can take part in a merge.
type Versioned interface {
	// Version is the entity's last-modification instant in microseconds.
	Version() int64
	// Fingerprint hashes the entity's content, timestamps excluded.
	Fingerprint() (string, error)
}

// TieBreak decides which copy survives when both carry the same version but
// different content. Every pair of replicas must pick opposite sides: the
// hub keeps its own copy and clients take the hub's.
type TieBreak int

const (
	TiePreferLocal TieBreak = iota
	TiePreferRemote
)

// Outcome is the result of Merge.
type Outcome[T Versioned] struct {
	Winner   T
	Decision Decision
}

// Merge applies last-writer-wins on Version. A strictly newer remote copy wins
// and an older one loses. Equal versions with equal content are identical;
// with different content tie decides. Keeping the local copy over different
// content counts as a conflict.
func Merge[T Versioned](local T, found bool, remote T, tie TieBreak) (Outcome[T], error) {
	if !found {
		return Outcome[T]{Winner: remote, Decision: DecisionInsert}, nil
	}
	if remote.Version() > local.Version() {
		return Outcome[T]{Winner: remote, Decision: DecisionAcceptRemote}, nil
	}

	localPrint, err := local.Fingerprint()
	if err != nil {
		return Outcome[T]{}, err
	}
	remotePrint, err := remote.Fingerprint()
	if err != nil {
		return Outcome[T]{}, err
	}
	if localPrint == remotePrint {
		return Outcome[T]{Winner: local, Decision: DecisionIdentical}, nil
	}
	if remote.Version() == local.Version() && tie == TiePreferRemote {
		return Outcome[T]{Winner: remote, Decision: DecisionAcceptRemote}, nil
	}
	return Outcome[T]{Winner: local, Decision: DecisionKeepLocal}, nil
}
