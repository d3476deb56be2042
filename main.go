package main

import (
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"rtlab/internal/cleaning"
	"rtlab/internal/config"
	"rtlab/internal/cue"
	"rtlab/internal/database"
	"rtlab/internal/engine"
	logger "rtlab/internal/logging"
	"rtlab/internal/models"
	"rtlab/internal/repository"
	"rtlab/internal/router"
	"rtlab/internal/services"
	"rtlab/internal/timing"
)

func main() {
	// A missing .env is fine; viper's env binding picks up whatever is set.
	_ = godotenv.Load()

	// Initialize Logger
	log, err := logger.Init(".")
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	// Initialize Configuration
	if err := config.Init(".", log); err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize Database
	db, err := database.Init(log)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	store := repository.NewSessionStore(db, log)

	// Server-side cue channel: the log, plus the lab broker when enabled.
	var actuator cue.Actuator = cue.NewLogActuator(log)
	if config.Conf.MQTT.Enabled {
		mqttActuator, err := cue.NewMQTTActuator(config.Conf.MQTT.Broker, config.Conf.MQTT.ClientID, log)
		if err != nil {
			log.Fatal("Failed to connect to cue broker", zap.Error(err))
		}
		defer mqttActuator.Close()
		actuator = cue.NewMulti(actuator, mqttActuator)
	}

	calibration := models.CalibrationData{
		RefreshRateHz:   config.Conf.Calibration.RefreshRateHz,
		TouchSamplingHz: config.Conf.Calibration.TouchSamplingHz,
	}

	manager := engine.NewManager(log, store, actuator,
		func(refreshRateHz float64) timing.Scheduler {
			return timing.NewRealScheduler(refreshRateHz)
		},
		calibration, cleaningOptions)
	defer manager.Shutdown()

	services.NewJanitor(log, manager).Start()

	// Setup router, passing the logger to it
	r := router.Setup(log, manager, store, actuator, cleaningOptions)

	// Start the Gin server
	port := ":" + config.Conf.Server.Port
	log.Info("Server listening on http://localhost" + port)
	if err := r.Run(port); err != nil {
		log.Fatal("Failed to run Gin server", zap.Error(err))
	}
}

// cleaningOptions layers the server configuration over the paradigm-aware
// pipeline defaults.
func cleaningOptions(paradigm models.Paradigm, method models.OutlierMethod) cleaning.Options {
	c := config.Conf.Cleaning
	opts := cleaning.DefaultOptions(paradigm, method)
	if c.MinRTMs > 0 {
		opts.MinRTMs = c.MinRTMs
	}
	if paradigm == models.ParadigmGoNoGo {
		if c.MaxRTGoNoGoMs > 0 {
			opts.MaxRTMs = c.MaxRTGoNoGoMs
		}
	} else if c.MaxRTMs > 0 {
		opts.MaxRTMs = c.MaxRTMs
	}
	if c.SDMultiplier > 0 {
		opts.SDMultiplier = c.SDMultiplier
	}
	if c.MADMultiplier > 0 {
		opts.MADMultiplier = c.MADMultiplier
	}
	if c.TrimPercent > 0 {
		opts.TrimPercent = c.TrimPercent
	}
	if c.IQRMultiplier > 0 {
		opts.IQRMultiplier = c.IQRMultiplier
	}
	opts.TrimExtremes = c.TrimExtremes
	return opts
}
