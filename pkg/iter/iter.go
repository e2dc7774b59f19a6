// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package iter provides sequence helpers for route and interface lists.
package iter

import "iter"

// Unique yields elements of seq whose key was not seen before, keeping the first one.
func Unique[T any, K comparable](seq iter.Seq[T], key func(T) K) iter.Seq[T] {
	return func(yield func(T) bool) {
		seen := map[K]struct{}{}

		for elem := range seq {
			k := key(elem)
			if _, ok := seen[k]; ok {
				continue
			}

			seen[k] = struct{}{}

			if !yield(elem) {
				return
			}
		}
	}
}

// Deduplicate yields elements of a sorted slice, collapsing each run of equal
// elements into its last element.
func Deduplicate[T any](elems []T, equal func(a, b T) bool) iter.Seq[T] {
	return func(yield func(T) bool) {
		for i, elem := range elems {
			if i+1 < len(elems) && equal(elem, elems[i+1]) {
				continue
			}

			if !yield(elem) {
				return
			}
		}
	}
}

// Filter yields the elements of seq for which fn returns true.
func Filter[T any](seq iter.Seq[T], fn func(T) bool) iter.Seq[T] {
	return func(yield func(T) bool) {
		for elem := range seq {
			if fn(elem) && !yield(elem) {
				return
			}
		}
	}
}

// Concat yields the elements of every slice in order.
func Concat[T any](slcs ...[]T) iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, slc := range slcs {
			for _, elem := range slc {
				if !yield(elem) {
					return
				}
			}
		}
	}
}
