package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/annel0/voxel-stream/internal/auth"
	"github.com/annel0/voxel-stream/internal/eventbus"
	"github.com/annel0/voxel-stream/internal/logging"
	"github.com/annel0/voxel-stream/internal/middleware"
	"github.com/annel0/voxel-stream/internal/streamer"
	"github.com/annel0/voxel-stream/internal/vec"
	"github.com/annel0/voxel-stream/internal/world"
	"github.com/annel0/voxel-stream/internal/world/voxel"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RestServer REST API управления фокусами, вокселями и статусом уровня
type RestServer struct {
	router    *gin.Engine
	runtime   *streamer.Runtime
	bus       eventbus.EventBus
	issuer    *auth.Issuer
	operators *auth.OperatorStore
	port      string
	metrics   *ServerMetrics
	upgrader  websocket.Upgrader
	log       *logging.Logger
	server    *http.Server
}

// Config зависимости REST сервера
type Config struct {
	Port      string                // адрес для запуска сервера, по умолчанию ":8088"
	Runtime   *streamer.Runtime     // уровень и планировщик
	Bus       eventbus.EventBus     // источник /ws/events; nil: поток недоступен
	Issuer    *auth.Issuer          // выпуск и проверка токенов
	Operators *auth.OperatorStore   // учётные записи для /api/auth/login
	Registry  *prometheus.Registry  // метрики HTTP и отдача /metrics
	Service   string                // имя сервиса для otelgin и метрик
}

// NewRestServer создаёт REST API сервер
func NewRestServer(cfg Config) *RestServer {
	if cfg.Port == "" {
		cfg.Port = ":8088"
	}
	if cfg.Service == "" {
		cfg.Service = "voxel_api"
	}
	if cfg.Operators == nil {
		cfg.Operators = auth.NewOperatorStore()
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(otelgin.Middleware(cfg.Service))
	router.Use(middleware.NewRequestLogger().Handler())

	var reg prometheus.Registerer
	if cfg.Registry != nil {
		reg = cfg.Registry
	}
	promMw := middleware.NewPrometheusMiddleware(cfg.Service, reg)
	router.Use(promMw.Handler())
	if cfg.Registry != nil {
		promMw.RegisterMetricsEndpoint(router, cfg.Registry)
	}

	rs := &RestServer{
		router:    router,
		runtime:   cfg.Runtime,
		bus:       cfg.Bus,
		issuer:    cfg.Issuer,
		operators: cfg.Operators,
		port:      cfg.Port,
		metrics:   NewServerMetrics(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: logging.GetAPILogger(),
	}
	rs.setupRoutes()
	return rs
}

// Router обработчик для тестов и встраивания
func (rs *RestServer) Router() http.Handler { return rs.router }

func (rs *RestServer) setupRoutes() {
	rs.router.Use(corsMiddleware())

	rs.router.GET("/health", rs.handleHealth)
	rs.router.GET("/ws/events", rs.handleEvents)

	api := rs.router.Group("/api")
	api.POST("/auth/login", rs.handleLogin)
	api.GET("/stats", rs.handleStats)
	api.GET("/level", rs.handleLevel)
	api.GET("/chunks/:x/:y/:z", rs.handleChunk)
	api.GET("/foci", rs.handleListFoci)

	write := api.Group("/")
	write.Use(rs.jwtMiddleware(), rs.writeMiddleware())
	{
		write.POST("/foci", rs.handleAddFocus)
		write.PUT("/foci/:id", rs.handleMoveFocus)
		write.DELETE("/foci/:id", rs.handleRemoveFocus)
		write.POST("/voxels", rs.handleSetVoxel)
	}
}

// Start запускает HTTP сервер и блокируется до его остановки
func (rs *RestServer) Start() error {
	rs.server = &http.Server{
		Addr:              rs.port,
		Handler:           rs.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	rs.log.Info("🌐 REST API слушает %s", rs.port)
	if err := rs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown корректно останавливает HTTP сервер
func (rs *RestServer) Shutdown(ctx context.Context) error {
	if rs.server == nil {
		return nil
	}
	return rs.server.Shutdown(ctx)
}

// GenericResponse общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// LoginRequest запрос токена
type LoginRequest struct {
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// PositionRequest мировая позиция фокуса
type PositionRequest struct {
	X *int `json:"x" binding:"required"`
	Y *int `json:"y" binding:"required"`
	Z *int `json:"z" binding:"required"`
}

func (p PositionRequest) vec() vec.Vec3 {
	return vec.New(*p.X, *p.Y, *p.Z)
}

// VoxelRequest запись вокселя
type VoxelRequest struct {
	PositionRequest
	Voxel uint8 `json:"voxel"`
}

// FocusInfo фокус в ответах API
type FocusInfo struct {
	ID       int           `json:"id"`
	Chunk    world.ChunkID `json:"chunk"`
	Position *vec.Vec3     `json:"position,omitempty"`
}

// ChunkInfo состояние чанка
type ChunkInfo struct {
	Chunk         world.ChunkID `json:"chunk"`
	Loaded        bool          `json:"loaded"`
	SolidVoxels   int           `json:"solid_voxels"`
	MeshGenerated bool          `json:"mesh_generated"`
	MeshEmpty     bool          `json:"mesh_empty"`
}

func (rs *RestServer) fail(c *gin.Context, status int, msg string) {
	c.JSON(status, GenericResponse{Success: false, Message: msg})
}

func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": rs.metrics.GetUptime(),
	})
}

func (rs *RestServer) handleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		rs.fail(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}

	op, err := rs.operators.Authenticate(req.Name, req.Password)
	if err != nil {
		rs.fail(c, http.StatusUnauthorized, "Неверное имя или пароль")
		return
	}

	token, err := rs.issuer.Issue(op.Name, op.ReadOnly)
	if err != nil {
		rs.log.Error("❌ Ошибка выпуска токена для %s: %v", op.Name, err)
		rs.fail(c, http.StatusInternalServerError, "Ошибка генерации токена")
		return
	}

	rs.log.Info("🔑 Оператор %s получил токен", op.Name)
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Успешная авторизация",
		Data:    gin.H{"token": token, "read_only": op.ReadOnly},
	})
}

func (rs *RestServer) handleStats(c *gin.Context) {
	data := gin.H{
		"runtime": rs.runtime.Stats(),
		"process": rs.metrics.Snapshot(),
	}
	if rs.bus != nil {
		data["eventbus"] = rs.bus.Metrics()
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "ok", Data: data})
}

func (rs *RestServer) handleLevel(c *gin.Context) {
	level := rs.runtime.Level()
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "ok",
		Data: gin.H{
			"name":          level.Name,
			"seed":          level.Seed,
			"chunk_bounds":  level.ChunkBounds,
			"active_chunks": rs.runtime.ActiveChunks(),
		},
	})
}

func (rs *RestServer) handleChunk(c *gin.Context) {
	var coords [3]int
	for i, name := range []string{"x", "y", "z"} {
		v, err := strconv.Atoi(c.Param(name))
		if err != nil {
			rs.fail(c, http.StatusBadRequest, "Неверная координата "+name)
			return
		}
		coords[i] = v
	}
	id := world.NewChunkID(coords[0], coords[1], coords[2])

	level := rs.runtime.Level()
	if !level.WithinBounds(id) {
		rs.fail(c, http.StatusBadRequest, "Чанк вне границ уровня")
		return
	}
	ch, ok := level.Chunk(id)
	if !ok {
		rs.fail(c, http.StatusNotFound, "Чанк не загружен")
		return
	}

	st := ch.State()
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "ok",
		Data: ChunkInfo{
			Chunk:         id,
			Loaded:        st.Loaded,
			SolidVoxels:   st.SolidVoxelCount,
			MeshGenerated: st.MeshGenerated,
			MeshEmpty:     st.MeshEmpty,
		},
	})
}

func (rs *RestServer) handleListFoci(c *gin.Context) {
	var out []FocusInfo
	rs.runtime.Level().ForEachFocus(func(id int, f world.Focus) {
		info := FocusInfo{ID: id, Chunk: f.CurrentChunk()}
		if tf, ok := f.(*world.TrackedFocus); ok {
			pos := tf.Position()
			info.Position = &pos
		}
		out = append(out, info)
	})
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "ok", Data: out})
}

func (rs *RestServer) handleAddFocus(c *gin.Context) {
	var req PositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		rs.fail(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}
	pos := req.vec()
	if !rs.runtime.Level().WithinBounds(world.ChunkIDFromWorld(pos)) {
		rs.fail(c, http.StatusBadRequest, "Позиция вне границ уровня")
		return
	}

	id, f := rs.runtime.AddFocus(pos)
	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Фокус добавлен",
		Data:    FocusInfo{ID: id, Chunk: f.CurrentChunk(), Position: &pos},
	})
}

func (rs *RestServer) focusID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		rs.fail(c, http.StatusBadRequest, "Неверный ID фокуса")
		return 0, false
	}
	return id, true
}

func (rs *RestServer) handleMoveFocus(c *gin.Context) {
	id, ok := rs.focusID(c)
	if !ok {
		return
	}
	var req PositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		rs.fail(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}
	pos := req.vec()
	if !rs.runtime.Level().WithinBounds(world.ChunkIDFromWorld(pos)) {
		rs.fail(c, http.StatusBadRequest, "Позиция вне границ уровня")
		return
	}

	if err := rs.runtime.MoveFocus(id, pos); err != nil {
		if errors.Is(err, streamer.ErrFocusNotFound) {
			rs.fail(c, http.StatusNotFound, "Фокус не найден")
			return
		}
		rs.fail(c, http.StatusConflict, err.Error())
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Фокус перемещён",
		Data:    FocusInfo{ID: id, Chunk: world.ChunkIDFromWorld(pos), Position: &pos},
	})
}

func (rs *RestServer) handleRemoveFocus(c *gin.Context) {
	id, ok := rs.focusID(c)
	if !ok {
		return
	}
	if err := rs.runtime.RemoveFocus(id); err != nil {
		rs.fail(c, http.StatusNotFound, "Фокус не найден")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Фокус снят"})
}

func (rs *RestServer) handleSetVoxel(c *gin.Context) {
	var req VoxelRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.X == nil || req.Y == nil || req.Z == nil {
		rs.fail(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}
	pos := req.vec()
	if !rs.runtime.Level().WithinBounds(world.ChunkIDFromWorld(pos)) {
		rs.fail(c, http.StatusBadRequest, "Позиция вне границ уровня")
		return
	}
	if !voxel.IsRegistered(voxel.ID(req.Voxel)) {
		rs.fail(c, http.StatusBadRequest, "Неизвестный тип вокселя")
		return
	}

	// запись применяется ведущей ролью на следующем такте
	rs.runtime.SetVoxel(pos, voxel.ID(req.Voxel))
	c.JSON(http.StatusAccepted, GenericResponse{Success: true, Message: "Запись поставлена в очередь"})
}
