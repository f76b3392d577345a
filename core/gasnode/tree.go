// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package gasnode

import (
	"errors"

	"github.com/probechain/gactor/common"
)

// LockKind names one of the four locked partitions a node's balance can be
// moved into (spec.md §3).
type LockKind uint8

const (
	LockWaitlist LockKind = iota
	LockMailbox
	LockReservation
	LockStash
	numLockKinds
)

var (
	ErrNodeAlreadyExists  = errors.New("gasnode: node already exists")
	ErrNodeNotFound       = errors.New("gasnode: node not found")
	ErrInsufficientBalance = errors.New("gasnode: insufficient balance")
	ErrForbidden          = errors.New("gasnode: forbidden")
	ErrNodeWasConsumed    = errors.New("gasnode: node was already consumed")
	ErrConsumedWithLock   = errors.New("gasnode: cannot consume node with outstanding lock")
)

// variant distinguishes nodes that hold their own balance ("specified":
// created via Create, SplitWithValue, or Cut) from nodes that draw on the
// nearest specified ancestor's pooled balance ("unspecified": created via
// plain Split).
type variant uint8

const (
	variantSpecified variant = iota
	variantUnspecified
)

type node struct {
	id       common.MessageID
	parent   *common.MessageID
	owner    common.ActorID // set only on roots created via Create
	variant  variant
	cut      bool
	consumed bool
	balance  common.Gas
	locked   [numLockKinds]common.Gas
	children map[common.MessageID]struct{}
}

// Tree is the gas-node accounting forest of spec.md §4.3/§3.
//
// Not safe for concurrent use; spec.md §5 assigns it to the runner alone.
type Tree struct {
	nodes map[common.MessageID]*node
}

// NewTree creates an empty gas-node forest.
func NewTree() *Tree {
	return &Tree{nodes: make(map[common.MessageID]*node)}
}

// Create establishes a new root node with an external owner and a starting
// balance, failing with ErrNodeAlreadyExists if id is already in use.
func (t *Tree) Create(owner common.ActorID, id common.MessageID, amount common.Gas) error {
	if _, ok := t.nodes[id]; ok {
		return ErrNodeAlreadyExists
	}
	t.nodes[id] = &node{
		id:      id,
		owner:   owner,
		variant: variantSpecified,
		balance: amount,
	}
	return nil
}

func (t *Tree) get(id common.MessageID) (*node, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, ErrNodeNotFound
	}
	return n, nil
}

// Split creates an unspecified child of parent: the child holds no balance
// of its own and spends/locks resolve against the nearest specified
// ancestor (its "patron").
func (t *Tree) Split(parentID, childID common.MessageID) error {
	parent, err := t.get(parentID)
	if err != nil {
		return err
	}
	if parent.cut {
		return ErrForbidden
	}
	if _, ok := t.nodes[childID]; ok {
		return ErrNodeAlreadyExists
	}
	child := &node{id: childID, parent: &parentID, variant: variantUnspecified}
	t.nodes[childID] = child
	t.addChild(parent, childID)
	return nil
}

// SplitWithValue creates a specified child that takes a cut of amount from
// parent's own balance.
func (t *Tree) SplitWithValue(parentID, childID common.MessageID, amount common.Gas) error {
	parent, err := t.get(parentID)
	if err != nil {
		return err
	}
	if parent.cut {
		return ErrForbidden
	}
	if _, ok := t.nodes[childID]; ok {
		return ErrNodeAlreadyExists
	}
	target, err := t.patronOf(parent)
	if err != nil {
		return err
	}
	if target.balance < amount {
		return ErrInsufficientBalance
	}
	target.balance -= amount
	child := &node{id: childID, parent: &parentID, variant: variantSpecified, balance: amount}
	t.nodes[childID] = child
	t.addChild(parent, childID)
	return nil
}

// Cut creates a reserved leaf child: its value is never returned upward and
// it can never split or be cut further (spec.md §4.3).
func (t *Tree) Cut(parentID, childID common.MessageID, amount common.Gas) error {
	parent, err := t.get(parentID)
	if err != nil {
		return err
	}
	if parent.cut {
		return ErrForbidden
	}
	if _, ok := t.nodes[childID]; ok {
		return ErrNodeAlreadyExists
	}
	target, err := t.patronOf(parent)
	if err != nil {
		return err
	}
	if target.balance < amount {
		return ErrInsufficientBalance
	}
	target.balance -= amount
	child := &node{id: childID, parent: &parentID, variant: variantSpecified, balance: amount, cut: true}
	t.nodes[childID] = child
	t.addChild(parent, childID)
	return nil
}

func (t *Tree) addChild(parent *node, childID common.MessageID) {
	if parent.children == nil {
		parent.children = make(map[common.MessageID]struct{})
	}
	parent.children[childID] = struct{}{}
}

// patronOf walks up from n while variant is unspecified, returning the
// nearest node that holds its own balance (n itself if it already does).
func (t *Tree) patronOf(n *node) (*node, error) {
	cur := n
	for cur.variant == variantUnspecified {
		if cur.parent == nil {
			return nil, ErrNodeNotFound
		}
		p, err := t.get(*cur.parent)
		if err != nil {
			return nil, err
		}
		cur = p
	}
	return cur, nil
}

// Spend deducts amount from the balance backing id — its own balance if id
// is specified, or its nearest specified ancestor's balance if id is an
// unspecified split child.
func (t *Tree) Spend(id common.MessageID, amount common.Gas) error {
	n, err := t.get(id)
	if err != nil {
		return err
	}
	target, err := t.patronOf(n)
	if err != nil {
		return err
	}
	if target.balance < amount {
		return ErrInsufficientBalance
	}
	target.balance -= amount
	return nil
}

// Lock moves amount from id's own limit balance into the named locked
// partition.
func (t *Tree) Lock(id common.MessageID, kind LockKind, amount common.Gas) error {
	n, err := t.get(id)
	if err != nil {
		return err
	}
	if n.balance < amount {
		return ErrInsufficientBalance
	}
	n.balance -= amount
	n.locked[kind] += amount
	return nil
}

// Unlock moves amount back from the named locked partition into id's own
// limit balance.
func (t *Tree) Unlock(id common.MessageID, kind LockKind, amount common.Gas) error {
	n, err := t.get(id)
	if err != nil {
		return err
	}
	if n.locked[kind] < amount {
		return ErrInsufficientBalance
	}
	n.locked[kind] -= amount
	n.balance += amount
	return nil
}

// Balance returns id's own balance (0 for unspecified nodes, which hold
// none of their own).
func (t *Tree) Balance(id common.MessageID) (common.Gas, error) {
	n, err := t.get(id)
	if err != nil {
		return 0, err
	}
	return n.balance, nil
}

// EffectiveBalance returns the balance actually available to fund id's
// own spending: id's own balance if id is specified, or its nearest
// specified ancestor's balance if id is an unspecified split child — the
// same resolution Spend applies internally, exposed here for a caller
// (core/runner) that needs to read the amount before handing an
// invocation a gas counter.
func (t *Tree) EffectiveBalance(id common.MessageID) (common.Gas, error) {
	n, err := t.get(id)
	if err != nil {
		return 0, err
	}
	target, err := t.patronOf(n)
	if err != nil {
		return 0, err
	}
	return target.balance, nil
}

// Locked returns the amount id has locked under kind.
func (t *Tree) Locked(id common.MessageID, kind LockKind) (common.Gas, error) {
	n, err := t.get(id)
	if err != nil {
		return 0, err
	}
	return n.locked[kind], nil
}

// Consume marks id consumed. It returns a negative imbalance (the node's
// released balance, negated) only when the node has no remaining live
// children and, being a specified node, nothing above it still depends on
// it; otherwise it returns zero and the node persists as a blockage whose
// balance remains reachable by any still-live descendants (spec.md §4.3).
//
// Consuming a node with any non-zero lock fails with ErrConsumedWithLock
// and performs no mutation. Consuming an already-consumed, still-present
// node fails with ErrNodeWasConsumed.
func (t *Tree) Consume(id common.MessageID) (int64, error) {
	n, err := t.get(id)
	if err != nil {
		return 0, err
	}
	if n.consumed {
		return 0, ErrNodeWasConsumed
	}
	for _, l := range n.locked {
		if l != 0 {
			return 0, ErrConsumedWithLock
		}
	}
	n.consumed = true
	return t.tryRelease(n), nil
}

// tryRelease releases n's balance upward (as a negative imbalance) if it
// has no remaining children, then cascades to its parent if the parent is
// itself consumed and now childless too.
func (t *Tree) tryRelease(n *node) int64 {
	if len(n.children) > 0 {
		return 0
	}
	imbalance := int64(0)
	if n.variant == variantSpecified && n.balance > 0 {
		imbalance = -int64(n.balance)
		n.balance = 0
	}
	delete(t.nodes, n.id)
	if n.parent != nil {
		if parent, ok := t.nodes[*n.parent]; ok {
			delete(parent.children, n.id)
			if parent.consumed {
				imbalance += t.tryRelease(parent)
			}
		}
	}
	return imbalance
}

// Exists reports whether id is still present in the forest.
func (t *Tree) Exists(id common.MessageID) bool {
	_, ok := t.nodes[id]
	return ok
}

// TotalSupply sums every live node's own balance plus every locked
// partition across the forest — the invariant spec.md §4.3/§8 requires to
// hold after any sequence of operations (modulo amounts burned via Spend,
// which leave the forest and are not part of this sum).
func (t *Tree) TotalSupply() common.Gas {
	var sum common.Gas
	for _, n := range t.nodes {
		sum += n.balance
		for _, l := range n.locked {
			sum += l
		}
	}
	return sum
}
