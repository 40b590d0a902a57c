package console

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/Sergey-Ryabko-84/next-talk/internal/session"
	"github.com/Sergey-Ryabko-84/next-talk/pkg/protocol"
	"github.com/Sergey-Ryabko-84/next-talk/pkg/rtpstats"
	"github.com/Sergey-Ryabko-84/next-talk/pkg/wsutils"
)

type websocketMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// sessionController exposes the session's observable state over the local
// HTTP console: a point-in-time snapshot, a websocket watch feed, and the
// local actions a UI drives (chat, share, toggles, rename).
type sessionController struct {
	logger   *slog.Logger
	session  *session.Session
	flows    *rtpstats.Registry
	upgrader websocket.Upgrader
}

func (ctrl *sessionController) wsError(w *wsutils.ThreadSafeWriter, err error) error {
	ctrl.logger.Error(fmt.Sprintf("%s | Err: %s", w.Conn.RemoteAddr(), err))
	_ = w.WriteJSON(&websocketMessage{
		Event: "error",
		Data:  err.Error(),
	})
	return err
}

type sessionResponse struct {
	session.Snapshot
	Flows []rtpstats.FlowSnapshot `json:"flows"`
}

func (ctrl *sessionController) SessionControllerGet(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, sessionResponse{
		Snapshot: ctrl.session.Snapshot(),
		Flows:    ctrl.flows.Snapshot(),
	})
}

// SessionControllerWatch streams one session-updated frame per notifier
// revision until the watcher goes away.
func (ctrl *sessionController) SessionControllerWatch(ctx echo.Context) error {
	conn, err := ctrl.upgrader.Upgrade(ctx.Response().Writer, ctx.Request(), nil)
	if err != nil {
		ctrl.logger.Error(fmt.Sprintf("Unable upgrade request %+v", ctx.Request()))
		return err
	}

	w := wsutils.NewThreadSafeWriter(conn)
	defer w.Close()

	id := uuid.NewString()
	updates := ctrl.session.Notifier().Subscribe(id)
	defer ctrl.session.Notifier().Unsubscribe(id)

	for {
		select {
		case <-ctx.Request().Context().Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := w.WriteJSON(&websocketMessage{
				Event: "session-updated",
				Data:  update,
			}); err != nil {
				return ctrl.wsError(w, err)
			}
		}
	}
}

type chatSendRequest struct {
	Content string `json:"content"`
}

func (ctrl *sessionController) SessionControllerChatSend(ctx echo.Context) error {
	var request chatSendRequest
	if err := ctx.Bind(&request); err != nil {
		return err
	}

	msg, err := ctrl.session.SendMessage(request.Content)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, msg)
}

func (ctrl *sessionController) SessionControllerShareStart(ctx echo.Context) error {
	if err := ctrl.session.StartScreenShare(ctx.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return ctx.JSON(http.StatusOK, ctrl.session.Snapshot())
}

func (ctrl *sessionController) SessionControllerShareStop(ctx echo.Context) error {
	if err := ctrl.session.StopScreenShare(ctx.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return ctx.JSON(http.StatusOK, ctrl.session.Snapshot())
}

type toggleResponse struct {
	On bool `json:"on"`
}

func (ctrl *sessionController) SessionControllerCameraToggle(ctx echo.Context) error {
	on := ctrl.session.ToggleCamera(ctx.Request().Context())
	return ctx.JSON(http.StatusOK, toggleResponse{On: on})
}

func (ctrl *sessionController) SessionControllerAudioToggle(ctx echo.Context) error {
	on := ctrl.session.ToggleAudio(ctx.Request().Context())
	return ctx.JSON(http.StatusOK, toggleResponse{On: on})
}

type renameRequest struct {
	UserName string `json:"userName"`
}

func (ctrl *sessionController) SessionControllerRename(ctx echo.Context) error {
	var request renameRequest
	if err := ctx.Bind(&request); err != nil {
		return err
	}

	if err := ctrl.session.SetDisplayName(request.UserName); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return ctx.JSON(http.StatusOK, ctrl.session.LocalInfo())
}

func (ctrl *sessionController) Resolve(c *echo.Echo) error {
	c.GET("/v1/session", ctrl.SessionControllerGet)
	c.GET("/v1/session/watch", ctrl.SessionControllerWatch)
	c.POST("/v1/session/chat", ctrl.SessionControllerChatSend)
	c.POST("/v1/session/share", ctrl.SessionControllerShareStart)
	c.DELETE("/v1/session/share", ctrl.SessionControllerShareStop)
	c.POST("/v1/session/camera", ctrl.SessionControllerCameraToggle)
	c.POST("/v1/session/audio", ctrl.SessionControllerAudioToggle)
	c.POST("/v1/session/name", ctrl.SessionControllerRename)
	return nil
}

var _ protocol.HttpResolvable = (*sessionController)(nil)

type newSessionController_Params struct {
	fx.In

	Session *session.Session
	Flows   *rtpstats.Registry
	Logger  *slog.Logger
}

func NewSessionController(params newSessionController_Params) *sessionController {
	return &sessionController{
		logger:  params.Logger,
		session: params.Session,
		flows:   params.Flows,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}
