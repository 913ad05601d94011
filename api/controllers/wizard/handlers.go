package wizard

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/distrohq/salesdesk/api/middleware"
	"github.com/distrohq/salesdesk/api/responses"
	"github.com/distrohq/salesdesk/api/validators"
	"github.com/distrohq/salesdesk/internal/cartsync"
	"github.com/distrohq/salesdesk/internal/commerce"
	"github.com/distrohq/salesdesk/internal/dropoff"
	"github.com/distrohq/salesdesk/internal/payment"
	"github.com/distrohq/salesdesk/internal/session"
	wizardsvc "github.com/distrohq/salesdesk/internal/wizard"
	pkgerrors "github.com/distrohq/salesdesk/pkg/errors"
	"github.com/distrohq/salesdesk/pkg/logger"
)

// SessionCreate opens a wizard session scoped to the caller's division.
func SessionCreate(mgr *session.Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess, err := mgr.Create(middleware.UserIDFrom(ctx), middleware.ScopeFrom(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{
			"session_id": sess.ID,
			"state":      sess.Wizard.Snapshot(),
		})
	}
}

// SessionState returns the whole wizard state.
func SessionState(mgr *session.Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := sessionFrom(mgr, r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sess.Wizard.Snapshot())
	}
}

// SessionDelete abandons the wizard pass.
func SessionDelete(mgr *session.Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := sessionFrom(mgr, r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sess.Wizard.Reset()
		mgr.Delete(sess.ID)
		responses.WriteSuccess(w, map[string]any{"deleted": true})
	}
}

// SelectCustomer binds the session to a customer.
func SelectCustomer(mgr *session.Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess, err := sessionFrom(mgr, r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var payload selectCustomerRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := sess.Wizard.SelectCustomer(payload.CustomerID, payload.CustomerName); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, sess.Wizard.Snapshot())
	}
}

// CartUpsert sets the absolute quantity of a product in the remote cart.
func CartUpsert(mgr *session.Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess, err := sessionFrom(mgr, r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var payload cartItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		cart, err := sess.Wizard.AddOrUpdateProduct(ctx, cartsync.ProductRef{
			ProductID: payload.ProductID,
			Name:      payload.ProductName,
			Unit:      payload.Unit,
		}, payload.Quantity)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, cart)
	}
}

// CartRemove removes a product from the remote cart.
func CartRemove(mgr *session.Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess, err := sessionFrom(mgr, r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		cart, err := sess.Wizard.RemoveProduct(ctx, chi.URLParam(r, "productID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, cart)
	}
}

// DropOffResize sets the number of delivery destinations.
func DropOffResize(mgr *session.Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess, err := sessionFrom(mgr, r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var payload dropOffCountRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := sess.Wizard.ResizeDropOffs(payload.Count); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, sess.Wizard.Snapshot())
	}
}

// DropOffPatch edits a destination's address fields.
func DropOffPatch(mgr *session.Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess, err := sessionFrom(mgr, r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		index, err := dropOffIndex(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var payload dropOffPatchRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		patch := dropoff.FieldPatch{
			ReceiverName:   payload.ReceiverName,
			ReceiverMobile: payload.ReceiverMobile,
			AddressLine1:   payload.AddressLine1,
			AddressLine2:   payload.AddressLine2,
			City:           payload.City,
			State:          payload.State,
			PostalCode:     payload.PostalCode,
		}
		if err := sess.Wizard.PatchDropOff(index, patch); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, sess.Wizard.Snapshot())
	}
}

// DropOffMove repositions a destination's map pin.
func DropOffMove(mgr *session.Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess, err := sessionFrom(mgr, r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		index, err := dropOffIndex(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var payload coordinatesRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := sess.Wizard.MoveDropOff(index, payload.Latitude, payload.Longitude); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, sess.Wizard.Snapshot())
	}
}

// DropOffAssignItem sets the quantity of a cart line on a destination.
func DropOffAssignItem(mgr *session.Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess, err := sessionFrom(mgr, r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		index, err := dropOffIndex(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var payload dropOffItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := sess.Wizard.AssignDropOffItem(index, payload.ProductID, payload.Quantity); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, sess.Wizard.Snapshot())
	}
}

// DropOffValidate runs the remote feasibility check for one destination.
func DropOffValidate(mgr *session.Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess, err := sessionFrom(mgr, r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		index, err := dropOffIndex(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		result, err := sess.Wizard.ValidateDropOff(ctx, index)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// DropOffSkipValidation force-marks a destination valid after the operator
// acknowledged a permission failure on the validation endpoint.
func DropOffSkipValidation(mgr *session.Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess, err := sessionFrom(mgr, r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		index, err := dropOffIndex(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := sess.Wizard.SkipDropOffValidation(index); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, sess.Wizard.Snapshot())
	}
}

// WarehouseSelect picks the warehouse/service-area type.
func WarehouseSelect(mgr *session.Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess, err := sessionFrom(mgr, r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var payload warehouseRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := sess.Wizard.ChooseWarehouse(payload.WarehouseType); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, sess.Wizard.Snapshot())
	}
}

// Advance completes the current step and moves forward.
func Advance(mgr *session.Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess, err := sessionFrom(mgr, r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if _, err := sess.Wizard.Advance(ctx); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, sess.Wizard.Snapshot())
	}
}

// GoTo jumps to an already-reached step.
func GoTo(mgr *session.Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess, err := sessionFrom(mgr, r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var payload gotoRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		step, err := wizardsvc.ParseStep(payload.Step)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid step"))
			return
		}
		if _, err := sess.Wizard.GoTo(step); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, sess.Wizard.Snapshot())
	}
}

// Review returns the server-computed review projection.
func Review(mgr *session.Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess, err := sessionFrom(mgr, r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		snapshot, err := sess.Wizard.Review(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, snapshot)
	}
}

// Finalize converts the plan into a persisted order.
func Finalize(mgr *session.Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess, err := sessionFrom(mgr, r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var payload finalizeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		ids, err := sess.Wizard.Finalize(ctx, payload.PaymentMethod)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithOrderID(ctx, ids.OrderID)
			logg.Info(ctx, "order.finalized")
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{
			"order": ids,
			"state": sess.Wizard.Snapshot(),
		})
	}
}

// PaymentsSubmit accepts the multipart payment batch: a "payments" JSON
// field plus optional proof_<index> file parts.
func PaymentsSubmit(mgr *session.Manager, logg *logger.Logger, maxUploadBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess, err := sessionFrom(mgr, r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		records, err := parsePaymentForm(w, r, maxUploadBytes)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := sess.Wizard.SubmitPayments(ctx, records); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, sess.Wizard.Snapshot())
	}
}

func parsePaymentForm(w http.ResponseWriter, r *http.Request, maxUploadBytes int64) ([]payment.Record, error) {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid multipart body")
	}

	raw := r.FormValue("payments")
	if raw == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payments field required")
	}
	var payloads []paymentRecordRequest
	if err := json.Unmarshal([]byte(raw), &payloads); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payments payload")
	}

	records := make([]payment.Record, 0, len(payloads))
	for i, p := range payloads {
		proof, err := proofFile(r, i)
		if err != nil {
			return nil, err
		}
		records = append(records, p.toRecord(proof))
	}
	return records, nil
}

func proofFile(r *http.Request, index int) (*commerce.ProofFile, error) {
	file, header, err := r.FormFile(fmt.Sprintf("proof_%d", index))
	if err == http.ErrMissingFile {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid proof attachment")
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "reading proof attachment")
	}
	return &commerce.ProofFile{Filename: header.Filename, Content: content}, nil
}

func sessionFrom(mgr *session.Manager, r *http.Request) (*session.Session, error) {
	id := chi.URLParam(r, "sessionID")
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	return mgr.Get(id)
}

func dropOffIndex(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "index")
	index, err := strconv.Atoi(raw)
	if err != nil || index < 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "invalid drop-off index")
	}
	return index, nil
}
