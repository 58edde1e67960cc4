// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package heap implements a generic min-heap priority queue.
package heap

import (
	"container/heap"
	"errors"
)

// Item is an entry in a PriorityQueue. Lower Priority pops first.
type Item struct {
	Value    interface{}
	Priority int

	index int
}

type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool { return h[i].Priority < h[j].Priority }

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x interface{}) {
	item := x.(*Item)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// PriorityQueue is a min-heap of Items ordered by Priority.
type PriorityQueue struct {
	h itemHeap
}

// NewPriorityQueue returns a PriorityQueue seeded with items.
func NewPriorityQueue(items ...*Item) *PriorityQueue {
	h := make(itemHeap, len(items))
	copy(h, items)
	heap.Init(&h)
	return &PriorityQueue{h: h}
}

// Push adds item to the queue.
func (q *PriorityQueue) Push(item *Item) {
	heap.Push(&q.h, item)
}

// Pop removes and returns the lowest-priority item.
func (q *PriorityQueue) Pop() (*Item, error) {
	if q.h.Len() == 0 {
		return nil, errors.New("heap: priority queue is empty")
	}
	return heap.Pop(&q.h).(*Item), nil
}

// Len returns the number of items in the queue.
func (q *PriorityQueue) Len() int {
	return q.h.Len()
}
