package grpcsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	backorderv1 "github.com/vladislavdragonenkov/backorders/api/backorder/v1"
	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

const (
	// IdempotencyKeyHeader: ключ metadata с idempotency-key.
	IdempotencyKeyHeader  = "idempotency-key"
	defaultIdempotencyTTL = 24 * time.Hour
)

type idempotencyErrorPayload struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

// mutationTarget: что меняет вызов и от чьего имени.
type mutationTarget struct {
	mutation   domain.Mutation
	operatorID string
	recordIDs  []string
}

func (t mutationTarget) scope(key string) domain.IdempotencyScope {
	return domain.IdempotencyScope{OperatorID: t.operatorID, Key: key}.Normalize()
}

// withIdempotency выполняет мутацию не больше одного раза на ключ оператора.
// Повтор с тем же телом получает сохранённый ответ или ту же ошибку.
func withIdempotency[Req any, Resp any](
	s *BackorderService,
	ctx context.Context,
	method string,
	target mutationTarget,
	req *Req,
	handler func(context.Context) (*Resp, error),
) (*Resp, error) {
	if s.idemRepo == nil {
		return handler(ctx)
	}

	idemKey, err := readIdempotencyKey(ctx)
	if err != nil {
		return nil, err
	}
	scope := target.scope(idemKey)

	reqHash, err := buildIdempotencyRequestHash(method, req)
	if err != nil {
		s.logger.WithError(err).WithField("method", method).Warn("failed to build idempotency request hash")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	now := s.clock.Now()
	held, err := s.idemRepo.Claim(ctx, domain.MutationClaim{
		Scope:       scope,
		Mutation:    target.mutation,
		RecordIDs:   target.recordIDs,
		RequestHash: reqHash,
		ClaimedAt:   now,
		ExpiresAt:   now.Add(s.idemTTL),
	})
	if err != nil {
		return replayIdempotency[Resp](s, err, held)
	}

	resp, runErr := handler(ctx)
	if runErr != nil {
		s.resolveFailure(ctx, scope, runErr)
		return nil, runErr
	}

	if err := s.resolveSuccess(ctx, scope, resp); err != nil {
		s.logger.WithError(err).WithField("idempotency_scope", scope.String()).Warn("failed to store idempotent success response")
	}
	return resp, nil
}

func replayIdempotency[Resp any](s *BackorderService, claimErr error, held domain.IdempotencyRecord) (*Resp, error) {
	switch {
	case errors.Is(claimErr, domain.ErrIdempotencyHashMismatch):
		return nil, status.Errorf(codes.AlreadyExists,
			"idempotency key is already used for %s with different request payload", held.Mutation)
	case errors.Is(claimErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch held.Status {
		case domain.IdempotencyStatusDone:
			if len(held.Response) == 0 {
				return nil, status.Error(codes.Internal, "idempotency cache is empty")
			}
			resp := new(Resp)
			if err := json.Unmarshal(held.Response, resp); err != nil {
				s.logger.WithError(err).WithField("idempotency_scope", held.Scope.String()).Warn("failed to decode cached idempotency response")
				return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
			}
			return resp, nil
		case domain.IdempotencyStatusProcessing:
			return nil, status.Error(codes.Aborted, "request with the same idempotency key is already processing")
		case domain.IdempotencyStatusFailed:
			return nil, decodeIdempotencyFailure(held)
		default:
			return nil, status.Error(codes.Internal, "unknown idempotency record status")
		}
	default:
		s.logger.WithError(claimErr).Warn("failed to claim idempotency key")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}
}

func (s *BackorderService) resolveSuccess(ctx context.Context, scope domain.IdempotencyScope, resp any) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.idemRepo.Resolve(ctx, scope, domain.MutationOutcome{
		Status:    domain.IdempotencyStatusDone,
		RecordIDs: touchedRecords(resp),
		Response:  data,
		Code:      int(codes.OK),
	})
}

func (s *BackorderService) resolveFailure(ctx context.Context, scope domain.IdempotencyScope, runErr error) {
	st := status.Convert(runErr)
	code := st.Code()
	if code == codes.OK {
		code = codes.Internal
	}

	payload, err := json.Marshal(idempotencyErrorPayload{
		Code:    int32(code), //nolint:gosec // codes.Code is a bounded enum value.
		Message: st.Message(),
	})
	if err != nil {
		s.logger.WithError(err).WithField("idempotency_scope", scope.String()).Warn("failed to encode idempotency failure payload")
		payload = nil
	}

	if err := s.idemRepo.Resolve(ctx, scope, domain.MutationOutcome{
		Status:   domain.IdempotencyStatusFailed,
		Response: payload,
		Code:     int(code),
	}); err != nil {
		s.logger.WithError(err).WithField("idempotency_scope", scope.String()).Warn("failed to store idempotency failure response")
	}
}

// touchedRecords: записи, изменённые успешным ответом. Для create id появляется только здесь.
func touchedRecords(resp any) []string {
	switch r := resp.(type) {
	case *backorderv1.RecordResponse:
		if r != nil && r.Record != nil {
			return []string{r.Record.ID}
		}
	case *backorderv1.BatchResponse:
		if r == nil {
			return nil
		}
		ids := make([]string, 0, len(r.Results))
		for _, item := range r.Results {
			if item.Code == uint32(codes.OK) {
				ids = append(ids, item.RecordID)
			}
		}
		return ids
	}
	return nil
}

func decodeIdempotencyFailure(record domain.IdempotencyRecord) error {
	if len(record.Response) > 0 {
		var payload idempotencyErrorPayload
		if err := json.Unmarshal(record.Response, &payload); err == nil {
			if code, ok := grpcCodeFromInt(int(payload.Code)); ok {
				if code == codes.OK {
					code = codes.Internal
				}
				if payload.Message == "" {
					payload.Message = "previous request with the same idempotency key failed"
				}
				return status.Error(code, payload.Message)
			}
		}
	}

	if code, ok := grpcCodeFromInt(record.Code); ok && code != codes.OK {
		return status.Error(code, "previous request with the same idempotency key failed")
	}
	return status.Error(codes.Internal, "previous request with the same idempotency key failed")
}

func grpcCodeFromInt(value int) (codes.Code, bool) {
	if value < int(codes.OK) || value > int(codes.Unauthenticated) {
		return codes.Internal, false
	}
	return codes.Code(uint32(value)), true //nolint:gosec // диапазон проверен выше
}

func readIdempotencyKey(ctx context.Context) (string, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(IdempotencyKeyHeader)
		if len(values) > 0 && strings.TrimSpace(values[0]) != "" {
			return strings.TrimSpace(values[0]), nil
		}
	}

	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		values := md.Get(IdempotencyKeyHeader)
		if len(values) > 0 && strings.TrimSpace(values[0]) != "" {
			return strings.TrimSpace(values[0]), nil
		}
	}

	return "", status.Error(codes.InvalidArgument, "idempotency-key metadata is required")
}

// buildIdempotencyRequestHash: sha256 от имени метода и JSON тела запроса.
// encoding/json сериализует поля структуры в порядке объявления, поэтому хеш стабилен.
func buildIdempotencyRequestHash(method string, req any) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	payload := make([]byte, 0, len(method)+1+len(data))
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, data...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
