package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/annel0/voxel-lod/internal/eventbus"
	"github.com/annel0/voxel-lod/internal/lod"
	"github.com/annel0/voxel-lod/internal/logging"
	"github.com/annel0/voxel-lod/internal/middleware"
	"github.com/annel0/voxel-lod/internal/tasks"
	"github.com/annel0/voxel-lod/internal/terrain"
	"github.com/annel0/voxel-lod/internal/vec"
	"github.com/annel0/voxel-lod/internal/voxel"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// maxEditVolume - наибольший объём одной правки через API (вокселей)
const maxEditVolume = 256 * 256 * 256

// RestServer - REST API для панели редактора и внешних инструментов
type RestServer struct {
	router  *gin.Engine
	server  *http.Server
	host    *terrain.Host
	bus     eventbus.EventBus
	metrics *ServerMetrics
	logger  *logging.Logger
}

// Config - параметры REST сервера
type Config struct {
	Port string // ":8088"
	Host *terrain.Host
	Bus  eventbus.EventBus // может быть nil

	// Регистр метрик HTTP и источник /metrics (nil - глобальные)
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// NewRestServer создаёт сервер и настраивает маршруты
func NewRestServer(cfg Config) *RestServer {
	if cfg.Port == "" {
		cfg.Port = ":8088"
	}
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("voxel_api"))
	router.Use(middleware.NewRequestLogger("/health", "/metrics").Handler())

	promMw := middleware.NewPrometheusMiddleware("voxel_api", cfg.Registerer)
	router.Use(promMw.Handler())
	middleware.RegisterMetricsEndpoint(router, cfg.Gatherer)

	rs := &RestServer{
		router:  router,
		host:    cfg.Host,
		bus:     cfg.Bus,
		metrics: NewServerMetrics(),
		logger:  logging.GetAPILogger(),
	}
	rs.server = &http.Server{
		Addr:              cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	rs.setupRoutes()
	return rs
}

// Handler возвращает http.Handler сервера (для тестов и встраивания)
func (rs *RestServer) Handler() http.Handler { return rs.router }

func (rs *RestServer) setupRoutes() {
	rs.router.GET("/health", rs.handleHealth)

	api := rs.router.Group("/api")
	api.GET("/stats", rs.handleStats)
	api.GET("/stats/indicator", rs.handleIndicator)
	api.GET("/volumes", rs.handleVolumes)
	api.GET("/volumes/:id", rs.handleVolume)
	api.POST("/volumes/:id/edits", rs.handleEdit)
	api.POST("/volumes/:id/save", rs.handleSave)
	api.GET("/eventbus", rs.handleEventBus)
}

// GenericResponse - общий конверт ответов API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// IndicatorResponse - строка индикатора задач и её ячейки
type IndicatorResponse struct {
	Line  string                `json:"line"`
	Cells []tasks.IndicatorStat `json:"cells"`
}

// VolumeInfo - описание тома
type VolumeInfo struct {
	ID           uint32          `json:"id"`
	LodCount     int             `json:"lod_count"`
	BlockSize    int             `json:"block_size"`
	Radii        []int           `json:"radii"`
	FullLoadMode bool            `json:"full_load_mode"`
	Origin       [3]float64      `json:"origin"`
	Streaming    string          `json:"streaming"`
	Meshes       int             `json:"meshes"`
	Visible      int             `json:"visible"`
	Stats        lod.VolumeStats `json:"stats"`
}

// EditRequest - правка области. Shape: "box" (pos + size) или "sphere" (pos + radius).
type EditRequest struct {
	Shape  string `json:"shape"`
	Pos    [3]int `json:"pos"`
	Size   [3]int `json:"size"`
	Radius int    `json:"radius"`
	Value  uint16 `json:"value"`
}

func (r EditRequest) toEdit() (voxel.Edit, error) {
	center := vec.Vec3{X: r.Pos[0], Y: r.Pos[1], Z: r.Pos[2]}
	switch r.Shape {
	case "", "box":
		size := vec.Vec3{X: r.Size[0], Y: r.Size[1], Z: r.Size[2]}
		if size.X <= 0 || size.Y <= 0 || size.Z <= 0 {
			return voxel.Edit{}, errors.New("size must be positive")
		}
		if size.X*size.Y*size.Z > maxEditVolume {
			return voxel.Edit{}, errors.New("edit is too large")
		}
		return voxel.SetVoxels(vec.Box{Pos: center, Size: size}, voxel.Voxel(r.Value)), nil
	case "sphere":
		if r.Radius <= 0 {
			return voxel.Edit{}, errors.New("radius must be positive")
		}
		d := 2*r.Radius + 1
		if d*d*d > maxEditVolume {
			return voxel.Edit{}, errors.New("edit is too large")
		}
		return voxel.FillSphere(center, r.Radius, voxel.Voxel(r.Value)), nil
	default:
		return voxel.Edit{}, errors.New("unknown shape " + strconv.Quote(r.Shape))
	}
}

func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

func (rs *RestServer) handleStats(c *gin.Context) {
	cpuPercent, _ := rs.metrics.GetCPUUsage()
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика получена",
		Data: gin.H{
			"terrain": rs.host.Stats(),
			"server": gin.H{
				"uptime":      rs.metrics.GetUptime(),
				"cpu_percent": cpuPercent,
				"memory":      rs.metrics.GetMemoryDetails(),
				"server_time": time.Now().Unix(),
			},
		},
	})
}

func (rs *RestServer) handleIndicator(c *gin.Context) {
	stats := rs.host.Runtime().Stats()
	c.JSON(http.StatusOK, IndicatorResponse{
		Line:  tasks.FormatIndicator(stats),
		Cells: tasks.Indicator(stats),
	})
}

func (rs *RestServer) volumeInfo(v *terrain.Volume) VolumeInfo {
	s := v.Settings()
	t := v.Transform()
	streaming := "generator"
	if st := v.Stream(); st != nil {
		streaming = st.Name()
	}
	return VolumeInfo{
		ID:           v.ID(),
		LodCount:     s.LodCount,
		BlockSize:    s.BlockSize(),
		Radii:        s.Radii,
		FullLoadMode: s.FullLoadMode,
		Origin:       [3]float64{t.Origin.X, t.Origin.Y, t.Origin.Z},
		Streaming:    streaming,
		Meshes:       v.MeshCount(),
		Visible:      v.VisibleCount(),
		Stats:        v.Stats(),
	}
}

func (rs *RestServer) handleVolumes(c *gin.Context) {
	vols := rs.host.Volumes()
	infos := make([]VolumeInfo, 0, len(vols))
	for _, v := range vols {
		infos = append(infos, rs.volumeInfo(v))
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Тома", Data: infos})
}

// lookupVolume достаёт том из :id или пишет ошибку в ответ
func (rs *RestServer) lookupVolume(c *gin.Context) (*terrain.Volume, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "Неверный ID тома"})
		return nil, false
	}
	v, err := rs.host.Volume(uint32(id))
	if errors.Is(err, terrain.ErrVolumeNotFound) {
		c.JSON(http.StatusNotFound, GenericResponse{Success: false, Message: "Том не найден"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Message: err.Error()})
		return nil, false
	}
	return v, true
}

func (rs *RestServer) handleVolume(c *gin.Context) {
	v, ok := rs.lookupVolume(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Том", Data: rs.volumeInfo(v)})
}

func (rs *RestServer) handleEdit(c *gin.Context) {
	v, ok := rs.lookupVolume(c)
	if !ok {
		return
	}
	var req EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "Неверный JSON"})
		return
	}
	edit, err := req.toEdit()
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: err.Error()})
		return
	}
	v.PushEdit(edit)
	rs.logger.Debug("Правка тома %d: %s %v", v.ID(), req.Shape, edit.Box)
	c.JSON(http.StatusAccepted, GenericResponse{
		Success: true,
		Message: "Правка поставлена в очередь",
		Data:    gin.H{"box": edit.Box},
	})
}

func (rs *RestServer) handleSave(c *gin.Context) {
	v, ok := rs.lookupVolume(c)
	if !ok {
		return
	}
	if v.Stream() == nil {
		c.JSON(http.StatusConflict, GenericResponse{Success: false, Message: "У тома нет хранилища"})
		return
	}
	if err := v.SaveAll(); err != nil {
		c.JSON(http.StatusServiceUnavailable, GenericResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, GenericResponse{Success: true, Message: "Сохранение поставлено"})
}

func (rs *RestServer) handleEventBus(c *gin.Context) {
	if rs.bus == nil {
		c.JSON(http.StatusNotFound, GenericResponse{Success: false, Message: "Шина событий не настроена"})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Шина событий", Data: rs.bus.Metrics()})
}

// Start запускает сервер и блокируется до Stop
func (rs *RestServer) Start() error {
	rs.logger.Info("🌐 REST API слушает %s", rs.server.Addr)
	if err := rs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop корректно останавливает сервер
func (rs *RestServer) Stop(ctx context.Context) error {
	return rs.server.Shutdown(ctx)
}
