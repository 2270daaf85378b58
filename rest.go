package shepherd

import (
	"time"

	"github.com/FlockTeam/Shepherd-Daemon/structs"
	"github.com/fasthttp/router"
	gotils_strconv "github.com/savsgio/gotils/strconv"
	"github.com/valyala/fasthttp"
)

// NewRestRouter returns the HTTP API router.
func (sd *Shepherd) NewRestRouter() *router.Router {
	r := router.New()
	r.GET("/shepherd/api/status", sd.StatusEndpoint)

	return r
}

// StatusEndpoint handles /shepherd/api/status requests.
func (sd *Shepherd) StatusEndpoint(ctx *fasthttp.RequestCtx) {
	sd.shardsMu.RLock()
	shardCount := sd.ShardCount
	sd.shardsMu.RUnlock()

	writeRestResponse(ctx, fasthttp.StatusOK, structs.RestResponse{
		Ok: true,
		Data: structs.StatusEndpointResponse{
			Uptime:     time.Since(sd.StartTime).Round(time.Second).String(),
			ShardCount: shardCount,
			Shards:     sd.ShardStatuses(),
		},
	})
}

func writeRestResponse(ctx *fasthttp.RequestCtx, statusCode int, response structs.RestResponse) {
	body, err := json.Marshal(response)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBody(gotils_strconv.S2B(err.Error()))

		return
	}

	ctx.SetStatusCode(statusCode)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}
