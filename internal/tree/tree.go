/*
Package tree implements the generic recursive tree walker shared by
the stash and login-tree shapes: Search locates the first node
(pre-order depth-first) matching a predicate; Update rebuilds the path
from the root to a unique matching node, replacing that node with
transform(match) and rebuilding every ancestor; every other subtree is
copied unchanged (shallow copy plus recursively-cloned children).
Nothing here ever mutates the input tree in place.
*/
package tree

// Node is satisfied by both LoginStash and LoginTree: a recursive
// structure exposing its children and able to produce a copy of
// itself with a different (already-recursively-cloned) child list.
type Node[T any] interface {
	Children() []T
	WithChildren(children []T) T
}

// Search performs a pre-order depth-first search for the first node
// satisfying predicate. Returns the zero value and false if no node
// matches.
func Search[T Node[T]](root T, predicate func(T) bool) (T, bool) {
	if predicate(root) {
		return root, true
	}
	for _, child := range root.Children() {
		if found, ok := Search(child, predicate); ok {
			return found, true
		}
	}
	var zero T
	return zero, false
}

// Update produces a new tree in which the first node (pre-order)
// matching predicate is replaced by transform(match); every ancestor
// on the path to that node is rebuilt via WithChildren so the new leaf
// is reachable from the returned root. Every subtree not on that path
// is still copied (via WithChildren over its own, recursively updated
// children) rather than shared with the input, so the result is always
// a fresh tree even when nothing matches.
//
// If no node matches, transform is never applied and the returned tree
// is a deep clone of root. If multiple nodes match, only the first
// encountered in pre-order is transformed — callers rely on this,
// always matching on a field that is unique across the tree (appId or
// loginId).
func Update[T Node[T]](root T, predicate func(T) bool, transform func(T) T) T {
	updated, _ := update(root, predicate, transform)
	return updated
}

func update[T Node[T]](node T, predicate func(T) bool, transform func(T) T) (T, bool) {
	if predicate(node) {
		return transform(node), true
	}

	children := node.Children()
	var newChildren []T
	if children != nil {
		newChildren = make([]T, len(children))
	}
	matchedAny := false
	matched := false

	for i, child := range children {
		if matchedAny {
			// Already found our match in an earlier sibling subtree;
			// remaining siblings are still cloned, just not searched
			// further (pre-order: first match wins).
			newChildren[i] = deepClone(child)
			continue
		}
		newChild, ok := update(child, predicate, transform)
		newChildren[i] = newChild
		if ok {
			matched = true
			matchedAny = true
		}
	}

	return node.WithChildren(newChildren), matched
}

// deepClone rebuilds node and its entire subtree via WithChildren,
// used once Update has already found its unique match so remaining
// subtrees are still copied rather than aliased to the input.
func deepClone[T Node[T]](node T) T {
	children := node.Children()
	var newChildren []T
	if children != nil {
		newChildren = make([]T, len(children))
	}
	for i, child := range children {
		newChildren[i] = deepClone(child)
	}
	return node.WithChildren(newChildren)
}
