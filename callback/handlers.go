package callback

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/skyengage/skyengage/approval"
	"github.com/skyengage/skyengage/ledger"
)

// interaction is the subset of a Slack block_actions payload we read.
type interaction struct {
	Type string `json:"type"`
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Name     string `json:"name"`
	} `json:"user"`
	Actions []struct {
		ActionID string `json:"action_id"`
		Value    string `json:"value"`
	} `json:"actions"`
	Message struct {
		TS string `json:"ts"`
	} `json:"message"`
	Container struct {
		MessageTS string `json:"message_ts"`
	} `json:"container"`
}

func (i interaction) user() string {
	switch {
	case i.User.Username != "":
		return i.User.Username
	case i.User.Name != "":
		return i.User.Name
	}
	return i.User.ID
}

func (i interaction) threadRef() string {
	if i.Message.TS != "" {
		return i.Message.TS
	}
	return i.Container.MessageTS
}

type messageResponse struct {
	Text            string `json:"text"`
	ReplaceOriginal bool   `json:"replace_original"`
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// HandleInteractive authenticates a button click and resolves the approval
// it names. Nothing is read from the ledger before the signature checks out.
func (srv *Server) HandleInteractive(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read request body")
	}

	req := c.Request()
	if err := Verify(srv.secret, req.Header.Get(HeaderTimestamp), req.Header.Get(HeaderSignature), body, srv.now(), srv.maxSkew); err != nil {
		callbacksTotal.WithLabelValues("forbidden").Inc()
		srv.logger.Warn("rejected unauthenticated callback", "err", err, "remote", c.RealIP())
		return c.JSON(http.StatusForbidden, GenericError{Error: "Forbidden", Message: "invalid request signature"})
	}

	it, err := parseInteraction(body)
	if err != nil {
		callbacksTotal.WithLabelValues("bad_payload").Inc()
		return c.JSON(http.StatusBadRequest, GenericError{Error: "BadPayload", Message: err.Error()})
	}
	if len(it.Actions) == 0 {
		callbacksTotal.WithLabelValues("bad_payload").Inc()
		return c.JSON(http.StatusBadRequest, GenericError{Error: "BadPayload", Message: "payload has no actions"})
	}

	verb, id, err := approval.ParseActionToken(it.Actions[0].Value)
	if err != nil {
		callbacksTotal.WithLabelValues("bad_token").Inc()
		return c.JSON(http.StatusBadRequest, GenericError{Error: "BadActionToken", Message: err.Error()})
	}

	logger := srv.logger.With("approval", id, "verb", verb, "user", it.user())
	res, err := srv.resolver.Resolve(ctx, approval.ResolveRequest{
		Verb:      verb,
		ID:        id,
		ThreadRef: it.threadRef(),
		User:      it.user(),
	})
	if errors.Is(err, ledger.ErrApprovalNotFound) {
		callbacksTotal.WithLabelValues("not_found").Inc()
		return c.JSON(http.StatusNotFound, GenericError{Error: "NotFound", Message: fmt.Sprintf("approval %d not found", id)})
	}
	if err != nil {
		callbacksTotal.WithLabelValues("error").Inc()
		logger.Error("resolving approval failed", "err", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to resolve approval")
	}

	if res.AlreadyProcessed {
		callbacksTotal.WithLabelValues("already_processed").Inc()
		logger.Info("approval already processed", "status", res.Status)
	} else {
		callbacksTotal.WithLabelValues(string(res.Status)).Inc()
		logger.Info("approval resolved", "status", res.Status)
	}
	return c.JSON(http.StatusOK, messageResponse{Text: res.Message()})
}

func parseInteraction(body []byte) (interaction, error) {
	var it interaction
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return it, fmt.Errorf("decoding form body: %w", err)
	}
	raw := form.Get("payload")
	if raw == "" {
		return it, errors.New("missing payload field")
	}
	if err := json.Unmarshal([]byte(raw), &it); err != nil {
		return it, fmt.Errorf("decoding payload: %w", err)
	}
	return it, nil
}
