package health

import (
	"net/http"

	"veilpool/pkg/settlement"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("health", fx.Provide(ProvideHealth))

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	OK          bool         `json:"ok"`
	PoolAddress string       `json:"poolAddress,omitempty"`
	Deps        []Dependency `json:"deps,omitempty"`
}

type HealthService interface {
	Liveness(c *gin.Context)
	Readiness(c *gin.Context)
}

type health struct {
	db         *gorm.DB
	redis      *redis.Client
	settlement settlement.Client
}

type HealthParams struct {
	fx.In
	DB         *gorm.DB          `optional:"true"`
	Redis      *redis.Client     `optional:"true"`
	Settlement settlement.Client `optional:"true"`
}

func ProvideHealth(p HealthParams) HealthService {
	return &health{
		db:         p.DB,
		redis:      p.Redis,
		settlement: p.Settlement,
	}
}

func (h *health) Liveness(c *gin.Context) {
	resp := &Health{OK: true}
	if h.settlement != nil {
		resp.PoolAddress = h.settlement.PoolAddress()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *health) Readiness(c *gin.Context) {
	this := &Health{OK: true}
	if h.settlement != nil {
		this.PoolAddress = h.settlement.PoolAddress()
	}

	deps := make([]Dependency, 0)
	if h.db != nil {
		dep := Dependency{Name: "database", Status: "healthy", Message: "OK"}

		sql, err := h.db.DB()
		if err != nil {
			dep.Status = "unhealthy"
			dep.Message = err.Error()
		} else if err := sql.PingContext(c.Request.Context()); err != nil {
			dep.Status = "unhealthy"
			dep.Message = err.Error()
		}

		if dep.Status != "healthy" {
			this.OK = false
		}
		deps = append(deps, dep)
	}

	if h.redis != nil {
		dep := Dependency{Name: "redis", Status: "healthy", Message: "OK"}

		if err := h.redis.Ping(c.Request.Context()).Err(); err != nil {
			dep.Status = "unhealthy"
			dep.Message = err.Error()
			this.OK = false
		}

		deps = append(deps, dep)
	}

	this.Deps = deps

	status := http.StatusOK
	if !this.OK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, this)
}
