package execution

import (
	"execution_client/internal/broker"
	"execution_client/internal/core"
	"execution_client/internal/model"
)

// OnTradeUpdate maps a pushed trade to a new snapshot and reports status transitions.
// Updates for an order whose placement is still in flight only seed the journal;
// the submission path records that order.
func (e *OrderExecutor) OnTradeUpdate(trade broker.Trade) {
	id := trade.Order.Key()

	e.mu.Lock()
	entry, ok := e.journal[id]
	if !ok {
		entry = &journalEntry{}
		e.journal[id] = entry
		if req, inFlight := e.pending[trade.Order.OrderRef]; inFlight && trade.Order.OrderRef != "" {
			entry.req, entry.hasRequest = req, true
			entry.order = e.mapLocked(trade, entry)
			e.mu.Unlock()
			return
		}
	}
	old := entry.order.Status
	order := e.mapLocked(trade, entry)
	entry.order = order
	handlers := e.handlersLocked()
	e.mu.Unlock()

	if old == order.Status {
		return
	}
	e.audit.LogOrderStatusChange(order, old)
	e.dispatch(handlers, func(h core.OrderEventHandler) { h.OnOrderStatus(order) })

	if order.Status == model.OrderStatusRejected {
		reason := trade.OrderStatus.WhyHeld
		if reason == "" {
			reason = "rejected by broker"
		}
		e.audit.LogOrderRejected(order, reason)
		e.dispatch(handlers, func(h core.OrderEventHandler) { h.OnOrderRejected(order, reason) })
	}
}

// OnFill records one execution and forwards it
func (e *OrderExecutor) OnFill(trade broker.Trade, fill broker.NativeFill) {
	f := fillFromNative(trade, fill)

	e.mu.Lock()
	clientID := trade.Order.OrderRef
	if entry, ok := e.journal[f.OrderID]; ok && entry.hasRequest {
		clientID = entry.req.ClientOrderID
	} else if req, inFlight := e.pending[trade.Order.OrderRef]; inFlight {
		clientID = req.ClientOrderID
	}
	handlers := e.handlersLocked()
	e.mu.Unlock()

	e.audit.LogFill(f, clientID)
	e.dispatch(handlers, func(h core.OrderEventHandler) { h.OnFill(f) })
}

// mapLocked builds the snapshot for trade from entry. Caller holds e.mu.
func (e *OrderExecutor) mapLocked(trade broker.Trade, entry *journalEntry) model.Order {
	submitted := entry.order.SubmittedAt
	if submitted.IsZero() {
		submitted = e.now()
	}
	if !entry.hasRequest {
		return orderFromTrade(trade, submitted)
	}
	order := model.NewOrderFromRequest(trade.Order.Key(), entry.req, MapStatus(trade.OrderStatus.Status), submitted)
	return order.WithExecution(order.Status, trade.OrderStatus.Filled, positiveOrNull(trade.OrderStatus.AvgFillPrice))
}

func (e *OrderExecutor) handlersLocked() []core.OrderEventHandler {
	if len(e.handlers) == 0 {
		return nil
	}
	return append([]core.OrderEventHandler(nil), e.handlers...)
}

func (e *OrderExecutor) dispatch(handlers []core.OrderEventHandler, call func(core.OrderEventHandler)) {
	if len(handlers) == 0 {
		return
	}
	if err := e.events.Submit(func() {
		for _, h := range handlers {
			call(h)
		}
	}); err != nil {
		e.logger.Warn("Dropped order event notification", "error", err)
	}
}
