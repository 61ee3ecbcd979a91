package procurement

import "sort"

// LotView is the read-side projection of a lot with its member requests.
type LotView struct {
	Lot           Lot
	Requests      []PurchaseRequest
	TotalQuantity int64
}

// PoolGroup holds approved requests of one category that are not assigned to
// any lot yet.
type PoolGroup struct {
	Category      string
	Requests      []PurchaseRequest
	TotalQuantity int64
}

// Board is the lot planning projection: open lots plus the unassigned pool.
// It is recomputed from the request collection on every read, never stored.
type Board struct {
	Lots []LotView
	Pool []PoolGroup
}

// BuildBoard derives the lot board from open lots and the current requests.
// Grouping identity is the lot id; category is only the display key, so two
// lots of the same category are never merged. Requests that are already
// ordered, rejected or received do not appear.
func BuildBoard(lots []Lot, requests []PurchaseRequest) Board {
	byLot := make(map[int64][]PurchaseRequest)
	pool := make(map[string][]PurchaseRequest)
	for _, req := range requests {
		switch req.Status {
		case StatusApproved, StatusBatched:
		default:
			continue
		}
		if req.Fulfillment == FulfillmentImmediate {
			continue
		}
		if req.LotID != 0 {
			byLot[req.LotID] = append(byLot[req.LotID], req)
			continue
		}
		pool[req.Category] = append(pool[req.Category], req)
	}

	board := Board{}
	for _, lot := range lots {
		members := byLot[lot.ID]
		view := LotView{Lot: lot, Requests: members}
		for _, req := range members {
			view.TotalQuantity += req.Quantity
		}
		board.Lots = append(board.Lots, view)
	}
	sort.Slice(board.Lots, func(i, j int) bool {
		a, b := board.Lots[i], board.Lots[j]
		if a.Lot.Category != b.Lot.Category {
			return a.Lot.Category < b.Lot.Category
		}
		return a.Lot.ID < b.Lot.ID
	})

	for category, members := range pool {
		group := PoolGroup{Category: category, Requests: members}
		for _, req := range members {
			group.TotalQuantity += req.Quantity
		}
		board.Pool = append(board.Pool, group)
	}
	sort.Slice(board.Pool, func(i, j int) bool {
		return board.Pool[i].Category < board.Pool[j].Category
	})
	return board
}

// AggregateItems folds requests into order items keyed by material name and
// unit. The category is carried from the first request of each pair; lot
// members share one category by construction.
func AggregateItems(requests []PurchaseRequest) []OrderItem {
	type key struct {
		name string
		unit string
	}
	totals := make(map[key]*OrderItem)
	order := make([]key, 0, len(requests))
	for _, req := range requests {
		k := key{name: req.MaterialName, unit: req.Unit}
		if item, ok := totals[k]; ok {
			item.TotalQuantity += req.Quantity
			continue
		}
		totals[k] = &OrderItem{
			MaterialName:  req.MaterialName,
			TotalQuantity: req.Quantity,
			Unit:          req.Unit,
			Category:      req.Category,
		}
		order = append(order, k)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].name != order[j].name {
			return order[i].name < order[j].name
		}
		return order[i].unit < order[j].unit
	})
	items := make([]OrderItem, 0, len(order))
	for _, k := range order {
		items = append(items, *totals[k])
	}
	return items
}
