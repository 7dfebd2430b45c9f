package server

import (
	"net/http"

	handler "auction-stream/services/bidding/handler"

	"github.com/gin-gonic/gin"
)

// Routes carries the collaborators mounted on the router besides the bidding service
type Routes struct {
	// WSPath is where websocket sessions are upgraded
	WSPath    string
	WebSocket gin.HandlerFunc
	// Metrics serves the prometheus scrape endpoint when set
	Metrics http.Handler
}

// SetupRouter configures all Gin routes for the application
func SetupRouter(biddingService handler.BiddingServiceInterface, routes Routes) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	router.Use(gin.Recovery()) // recover from panics
	router.Use(RequestIDMiddleware)
	router.Use(RequestLoggerMiddleware) // custom request logging

	biddingHandler := handler.NewBiddingHandler(biddingService)

	router.GET("/health", biddingHandler.HealthHandler)

	auctions := router.Group("/auctions")
	{
		auctions.GET("", biddingHandler.ListAuctionsHandler)
		auctions.POST("", biddingHandler.CreateAuctionHandler)
		auctions.GET("/:auction_id", biddingHandler.GetAuctionHandler)
		auctions.GET("/:auction_id/bids", biddingHandler.GetBidsHandler)
		auctions.POST("/:auction_id/bids", biddingHandler.PlaceBidHandler)
		auctions.GET("/:auction_id/events", biddingHandler.ReplayEventsHandler)
	}

	if routes.WebSocket != nil {
		router.GET(routes.WSPath, routes.WebSocket)
	}
	if routes.Metrics != nil {
		router.GET("/metrics", gin.WrapH(routes.Metrics))
	}

	return router
}
