package http

import (
	"net/http"
	"strings"
	"time"

	"tripledger/internal/calculator"
	"tripledger/internal/core"
	"tripledger/internal/services"
)

const dateLayout = "2006-01-02"

type participantDTO struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type rosterRequest struct {
	Participants []participantDTO `json:"participants"`
}

type shareDTO struct {
	ParticipantID string `json:"participant_id"`
	ShareCents    int64  `json:"share_cents"`
	PaidCents     int64  `json:"paid_cents"`
}

type expenseRequest struct {
	Date        string     `json:"date"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
	TotalCents  int64      `json:"total_cents"`
	Type        string     `json:"type"`
	Split       string     `json:"split"`
	Shares      []shareDTO `json:"shares"`
}

type expenseDTO struct {
	ID          string     `json:"id"`
	TripID      string     `json:"trip_id"`
	Date        string     `json:"date"`
	Category    string     `json:"category"`
	Description string     `json:"description,omitempty"`
	TotalCents  int64      `json:"total_cents"`
	Type        string     `json:"type"`
	Split       string     `json:"split"`
	Shares      []shareDTO `json:"shares"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
}

type depositRequest struct {
	PerPersonCents int64  `json:"per_person_cents"`
	Count          int    `json:"count"`
	Description    string `json:"description"`
}

type fundSpendRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

type fundTransactionDTO struct {
	ID                string    `json:"id"`
	Type              string    `json:"type"`
	AmountCents       int64     `json:"amount_cents"`
	Category          string    `json:"category,omitempty"`
	Description       string    `json:"description,omitempty"`
	CreatedBy         string    `json:"created_by"`
	CreatedAt         time.Time `json:"created_at"`
	BalanceAfterCents int64     `json:"balance_after_cents"`
}

type fundOverviewDTO struct {
	BalanceCents int64                `json:"balance_cents"`
	Transactions []fundTransactionDTO `json:"transactions"`
}

type balanceDTO struct {
	ParticipantID  string `json:"participant_id"`
	DisplayName    string `json:"display_name"`
	ToReceiveCents int64  `json:"to_receive_cents"`
	ToPayCents     int64  `json:"to_pay_cents"`
	NetCents       int64  `json:"net_cents"`
}

type planEntryDTO struct {
	SenderID         string `json:"sender_id"`
	SenderName       string `json:"sender_name"`
	ReceiverID       string `json:"receiver_id"`
	ReceiverName     string `json:"receiver_name"`
	AmountCents      int64  `json:"amount_cents"`
	AlreadyRequested bool   `json:"already_requested"`
}

type planDTO struct {
	Entries        []planEntryDTO `json:"entries"`
	ToReceiveCents int64          `json:"to_receive_cents"`
	ToPayCents     int64          `json:"to_pay_cents"`
}

type settlementRequest struct {
	FromUserID  string `json:"from_user_id"`
	ToUserID    string `json:"to_user_id"`
	AmountCents int64  `json:"amount_cents"`
	Memo        string `json:"memo"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type settlementDTO struct {
	ID          string     `json:"id"`
	TripID      string     `json:"trip_id"`
	FromUserID  string     `json:"from_user_id"`
	ToUserID    string     `json:"to_user_id"`
	AmountCents int64      `json:"amount_cents"`
	Status      string     `json:"status"`
	Memo        string     `json:"memo,omitempty"`
	RequestedBy string     `json:"requested_by"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type categoryStatDTO struct {
	Category    string  `json:"category"`
	AmountCents int64   `json:"amount_cents"`
	Percent     float64 `json:"percent"`
}

type personStatDTO struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
	AmountCents   int64  `json:"amount_cents"`
}

type dayStatDTO struct {
	Date        string `json:"date"`
	AmountCents int64  `json:"amount_cents"`
}

type statisticsDTO struct {
	MyTotalCents          int64             `json:"my_total_cents"`
	AveragePerPersonCents int64             `json:"average_per_person_cents"`
	Categories            []categoryStatDTO `json:"categories"`
	PerPerson             []personStatDTO   `json:"per_person"`
	Daily                 []dayStatDTO      `json:"daily"`
}

type auditRecordDTO struct {
	ID          int64     `json:"id"`
	Kind        string    `json:"kind"`
	EntityID    string    `json:"entity_id,omitempty"`
	ActorID     string    `json:"actor_id"`
	AmountCents int64     `json:"amount_cents"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func (s *Server) handleReplaceRoster(w http.ResponseWriter, r *http.Request) {
	tripID := r.PathValue("tripID")
	if _, ok := actorID(w, r); !ok {
		return
	}

	var req rosterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	participants := make([]core.Participant, len(req.Participants))
	for i, p := range req.Participants {
		participants[i] = core.Participant{ID: p.ID, DisplayName: sanitizeInput(p.DisplayName)}
	}

	if err := s.service.ReplaceRoster(r.Context(), tripID, participants); err != nil {
		writeDomainError(w, r, err)
		return
	}
	s.balanceCache.Invalidate(tripID)
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	roster, err := s.service.Roster(r.Context(), r.PathValue("tripID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	out := make([]participantDTO, len(roster))
	for i, p := range roster {
		out[i] = participantDTO{ID: p.ID, DisplayName: p.DisplayName}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) expenseInput(w http.ResponseWriter, r *http.Request) (services.ExpenseInput, bool) {
	var req expenseRequest
	if !decodeBody(w, r, &req) {
		return services.ExpenseInput{}, false
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		return services.ExpenseInput{}, false
	}
	shares := make([]services.ShareInput, len(req.Shares))
	for i, sh := range req.Shares {
		shares[i] = services.ShareInput{
			ParticipantID: sh.ParticipantID,
			Share:         core.Money{Cents: sh.ShareCents},
			Paid:          core.Money{Cents: sh.PaidCents},
		}
	}
	return services.ExpenseInput{
		Date:        date,
		Category:    sanitizeInput(req.Category),
		Description: sanitizeInput(req.Description),
		Total:       core.Money{Cents: req.TotalCents},
		Type:        core.ExpenseType(req.Type),
		Split:       core.SplitMethod(req.Split),
		Shares:      shares,
	}, true
}

func (s *Server) handleRecordExpense(w http.ResponseWriter, r *http.Request) {
	tripID := r.PathValue("tripID")
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	in, ok := s.expenseInput(w, r)
	if !ok {
		return
	}

	expense, err := s.service.RecordExpense(r.Context(), tripID, actor, in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	s.balanceCache.Invalidate(tripID)
	writeJSON(w, http.StatusCreated, toExpenseDTO(expense))
}

func (s *Server) handleEditExpense(w http.ResponseWriter, r *http.Request) {
	tripID := r.PathValue("tripID")
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	in, ok := s.expenseInput(w, r)
	if !ok {
		return
	}

	expense, err := s.service.EditExpense(r.Context(), tripID, actor, r.PathValue("expenseID"), in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	s.balanceCache.Invalidate(tripID)
	writeJSON(w, http.StatusOK, toExpenseDTO(expense))
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	tripID := r.PathValue("tripID")
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	if err := s.service.DeleteExpense(r.Context(), tripID, actor, r.PathValue("expenseID")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	s.balanceCache.Invalidate(tripID)
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	expense, err := s.service.GetExpense(r.Context(), r.PathValue("tripID"), r.PathValue("expenseID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(expense))
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	filter := core.FilterAll
	switch strings.ToLower(r.URL.Query().Get("filter")) {
	case "", "all":
	case "personal":
		filter = core.FilterPersonal
	case "shared":
		filter = core.FilterShared
	default:
		writeError(w, r, http.StatusBadRequest, "invalid filter, expected all, personal or shared")
		return
	}

	expenses, err := s.service.ListExpenses(r.Context(), r.PathValue("tripID"), filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	out := make([]expenseDTO, len(expenses))
	for i := range expenses {
		out[i] = toExpenseDTO(&expenses[i])
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	tripID := r.PathValue("tripID")
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if !decodeBody(w, r, &req) {
		return
	}

	tx, err := s.service.Deposit(r.Context(), tripID, actor,
		core.Money{Cents: req.PerPersonCents}, req.Count, sanitizeInput(req.Description))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFundTransactionDTO(tx))
}

func (s *Server) handleSpendFromFund(w http.ResponseWriter, r *http.Request) {
	tripID := r.PathValue("tripID")
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	var req fundSpendRequest
	if !decodeBody(w, r, &req) {
		return
	}

	tx, err := s.service.SpendFromFund(r.Context(), tripID, actor,
		core.Money{Cents: req.AmountCents}, sanitizeInput(req.Category), sanitizeInput(req.Description))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFundTransactionDTO(tx))
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	overview, err := s.service.Fund(r.Context(), r.PathValue("tripID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	out := fundOverviewDTO{
		BalanceCents: overview.Balance.Cents,
		Transactions: make([]fundTransactionDTO, len(overview.Transactions)),
	}
	for i := range overview.Transactions {
		out.Transactions[i] = toFundTransactionDTO(&overview.Transactions[i])
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	tripID := r.PathValue("tripID")

	var balances []core.BalanceSummary
	if snap, ok := s.balanceCache.Get(tripID); ok {
		balances = snap.Balances
	} else {
		var err error
		balances, err = s.service.Balances(r.Context(), tripID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		s.balanceCache.Set(tripID, balances)
	}

	out := make([]balanceDTO, len(balances))
	for i, b := range balances {
		out[i] = balanceDTO{
			ParticipantID:  b.ParticipantID,
			DisplayName:    b.DisplayName,
			ToReceiveCents: b.ToReceive.Cents,
			ToPayCents:     b.ToPay.Cents,
			NetCents:       b.Net.Cents,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.service.Plan(r.Context(), r.PathValue("tripID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	out := planDTO{
		Entries:        make([]planEntryDTO, len(plan.Entries)),
		ToReceiveCents: plan.ToReceive.Cents,
		ToPayCents:     plan.ToPay.Cents,
	}
	for i, e := range plan.Entries {
		out.Entries[i] = planEntryDTO{
			SenderID:         e.SenderID,
			SenderName:       e.SenderName,
			ReceiverID:       e.ReceiverID,
			ReceiverName:     e.ReceiverName,
			AmountCents:      e.Amount.Cents,
			AlreadyRequested: e.AlreadyRequested,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRequestSettlement(w http.ResponseWriter, r *http.Request) {
	tripID := r.PathValue("tripID")
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	var req settlementRequest
	if !decodeBody(w, r, &req) {
		return
	}

	settlement, err := s.service.RequestSettlement(r.Context(), tripID, actor,
		req.FromUserID, req.ToUserID, core.Money{Cents: req.AmountCents}, sanitizeInput(req.Memo))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSettlementDTO(settlement))
}

func (s *Server) handleListSettlements(w http.ResponseWriter, r *http.Request) {
	var status core.SettlementStatus
	switch v := strings.ToUpper(r.URL.Query().Get("status")); v {
	case "":
	case string(core.SettlementPending), string(core.SettlementApproved),
		string(core.SettlementRejected), string(core.SettlementCancelled):
		status = core.SettlementStatus(v)
	default:
		writeError(w, r, http.StatusBadRequest, "invalid settlement status filter")
		return
	}

	settlements, err := s.service.ListSettlements(r.Context(), r.PathValue("tripID"), status)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	out := make([]settlementDTO, len(settlements))
	for i := range settlements {
		out[i] = toSettlementDTO(&settlements[i])
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleApproveSettlement(w http.ResponseWriter, r *http.Request) {
	tripID := r.PathValue("tripID")
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	settlement, err := s.service.ApproveSettlement(r.Context(), tripID, actor, r.PathValue("settlementID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	s.balanceCache.Invalidate(tripID)
	writeJSON(w, http.StatusOK, toSettlementDTO(settlement))
}

func (s *Server) handleRejectSettlement(w http.ResponseWriter, r *http.Request) {
	tripID := r.PathValue("tripID")
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	settlement, err := s.service.RejectSettlement(r.Context(), tripID, actor, r.PathValue("settlementID"), sanitizeInput(req.Reason))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(settlement))
}

func (s *Server) handleCancelSettlement(w http.ResponseWriter, r *http.Request) {
	tripID := r.PathValue("tripID")
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	settlement, err := s.service.CancelSettlement(r.Context(), tripID, actor, r.PathValue("settlementID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(settlement))
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	participant := strings.TrimSpace(r.URL.Query().Get("participant"))
	if participant == "" {
		if actor, ok := actorID(w, r); ok {
			participant = actor
		} else {
			return
		}
	}

	stats, err := s.service.Statistics(r.Context(), r.PathValue("tripID"), participant)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatisticsDTO(stats))
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, "limit", 100)
	records, err := s.service.Audit(r.Context(), r.PathValue("tripID"), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	out := make([]auditRecordDTO, len(records))
	for i, rec := range records {
		out[i] = auditRecordDTO{
			ID:          rec.ID,
			Kind:        rec.Kind,
			EntityID:    rec.EntityID,
			ActorID:     rec.ActorID,
			AmountCents: rec.Amount.Cents,
			OccurredAt:  rec.OccurredAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRequestReport(w http.ResponseWriter, r *http.Request) {
	tripID := r.PathValue("tripID")
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	if err := s.service.RequestReport(r.Context(), tripID, actor); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "report requested"})
}

func toExpenseDTO(e *core.Expense) expenseDTO {
	shares := make([]shareDTO, len(e.Shares))
	for i, sh := range e.Shares {
		shares[i] = shareDTO{
			ParticipantID: sh.ParticipantID,
			ShareCents:    sh.Share.Cents,
			PaidCents:     sh.Paid.Cents,
		}
	}
	return expenseDTO{
		ID:          e.ID,
		TripID:      e.TripID,
		Date:        e.Date.Format(dateLayout),
		Category:    e.Category,
		Description: e.Description,
		TotalCents:  e.Total.Cents,
		Type:        string(e.Type),
		Split:       string(e.Split),
		Shares:      shares,
		CreatedBy:   e.CreatedBy,
		CreatedAt:   e.CreatedAt,
	}
}

func toFundTransactionDTO(t *core.FundTransaction) fundTransactionDTO {
	return fundTransactionDTO{
		ID:                t.ID,
		Type:              string(t.Type),
		AmountCents:       t.Amount.Cents,
		Category:          t.Category,
		Description:       t.Description,
		CreatedBy:         t.CreatedBy,
		CreatedAt:         t.CreatedAt,
		BalanceAfterCents: t.BalanceAfter.Cents,
	}
}

func toSettlementDTO(s *core.Settlement) settlementDTO {
	return settlementDTO{
		ID:          s.ID,
		TripID:      s.TripID,
		FromUserID:  s.FromUserID,
		ToUserID:    s.ToUserID,
		AmountCents: s.Amount.Cents,
		Status:      string(s.Status),
		Memo:        s.Memo,
		RequestedBy: s.RequestedBy,
		CreatedAt:   s.CreatedAt,
		CompletedAt: s.CompletedAt,
	}
}

func toStatisticsDTO(stats *calculator.Statistics) statisticsDTO {
	out := statisticsDTO{
		MyTotalCents:          stats.MyTotal.Cents,
		AveragePerPersonCents: stats.AveragePerPerson.Cents,
		Categories:            make([]categoryStatDTO, len(stats.Categories)),
		PerPerson:             make([]personStatDTO, len(stats.PerPerson)),
		Daily:                 make([]dayStatDTO, len(stats.Daily)),
	}
	for i, c := range stats.Categories {
		out.Categories[i] = categoryStatDTO{Category: c.Category, AmountCents: c.Amount.Cents, Percent: c.Percent}
	}
	for i, p := range stats.PerPerson {
		out.PerPerson[i] = personStatDTO{ParticipantID: p.ParticipantID, DisplayName: p.DisplayName, AmountCents: p.Amount.Cents}
	}
	for i, d := range stats.Daily {
		out.Daily[i] = dayStatDTO{Date: d.Date.Format(dateLayout), AmountCents: d.Amount.Cents}
	}
	return out
}
