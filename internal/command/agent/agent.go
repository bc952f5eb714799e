package agent

import (
	"context"
	"time"

	rabbithole "github.com/michaelklishin/rabbit-hole/v2"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fognode/internal/command/root"
	"fognode/internal/queue"
	"fognode/internal/signal"
)

func init() {
	root.Cmd.AddCommand(cmd)

	cmd.PersistentFlags().String("request-queue", "fognode.launch", "Queue of incoming launch requests")
	cmd.PersistentFlags().String("response-queue", "fognode.ready", "Queue of outgoing readiness notices")
	cmd.PersistentFlags().Duration("consume-interval", 5*time.Second, "Request queue poll interval")

	cmd.PersistentFlags().String("rabbitmq-admin", "", "RabbitMQ management endpoint (backlog reporting)")
	cmd.PersistentFlags().String("rabbitmq-user", "guest", "RabbitMQ management user")
	cmd.PersistentFlags().String("rabbitmq-pass", "guest", "RabbitMQ management password")

	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		log.WithError(err).Fatal("flag binding failed")
	}
}

var cmd = &cobra.Command{
	Use:   "agent",
	Short: "Provision nodes from queued requests",
	Long:  `FogNode Agent: consume launch requests from the queue and provision a node per request`,
	Run: func(cmd *cobra.Command, args []string) {
		log.Info("starting agent")

		cmpt := root.GetComponent(true, true, true, true)

		requestQueue := viper.GetString("request-queue")
		responseQueue := viper.GetString("response-queue")

		if err := cmpt.Channel.CreateQueue(requestQueue); err != nil {
			log.WithError(err).Fatalf("unable to declare queue '%s'", requestQueue)
		}

		if err := cmpt.Channel.CreateQueue(responseQueue); err != nil {
			log.WithError(err).Fatalf("unable to declare queue '%s'", responseQueue)
		}

		var admin *rabbithole.Client

		if adminAddr := viper.GetString("rabbitmq-admin"); adminAddr != "" {
			var err error
			admin, err = rabbithole.NewClient(adminAddr, viper.GetString("rabbitmq-user"), viper.GetString("rabbitmq-pass"))

			if err != nil {
				log.WithError(err).Fatal("rabbitmq admin client")
			}

			log.Infof("connected to RabbitMQ admin '%s'", adminAddr)
		}

		ctx := signal.WatchInterrupt(context.Background(), root.ShutdownGrace)

		ticker := time.NewTicker(viper.GetDuration("consume-interval"))
		defer ticker.Stop()

		log.Info("agent started")

	loop:
		for {
			if admin != nil {
				reportBacklog(admin, requestQueue)
			}

			consume(ctx, cmpt, requestQueue, responseQueue)

			select {
			case <-ctx.Done():
				break loop
			case <-ticker.C:
				continue
			}
		}

		log.Info("agent stopped")
	},
}

// consume drains every pending request before going back to sleep.
func consume(ctx context.Context, cmpt *root.Component, requestQueue, responseQueue string) {
	for {
		var request queue.LaunchRequest

		delivery, ok, err := cmpt.Channel.Consume(requestQueue, &request)

		if err != nil {
			log.WithError(err).Error("consume request")
			return
		}

		if !ok {
			return
		}

		log.WithFields(log.Fields{
			"backend":   request.Backend,
			"workspace": request.Workspace,
		}).Info("launch request received")

		response := handle(ctx, cmpt, request)

		if response.Error != "" {
			log.WithField("error", response.Error).Error("provisioning failed")
		} else {
			log.WithFields(log.Fields{
				"instance": response.Name,
				"publicIp": response.PublicIP,
			}).Info("node ready")
		}

		if err := cmpt.Channel.Publish(responseQueue, response); err != nil {
			log.WithError(err).Error("publish response")

			if err := delivery.Nack(true); err != nil {
				log.WithError(err).Error("requeue request")
			}

			return
		}

		if err := delivery.Ack(); err != nil {
			log.WithError(err).Error("acknowledge request")
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func handle(ctx context.Context, cmpt *root.Component, request queue.LaunchRequest) queue.LaunchResponse {
	p, err := root.BuildProvisioner(root.NodeParams{
		Backend:      request.Backend,
		Workspace:    request.Workspace,
		Region:       request.Region,
		InstanceType: request.InstanceType,
		DiskSize:     request.DiskSize,
		Image:        request.Image,
		Address:      request.Address,
		KeyPath:      request.KeyPath,
	}, cmpt)

	if err != nil {
		return queue.LaunchResponse{Error: err.Error()}
	}

	response := queue.LaunchResponse{Name: p.Record().Name()}

	if err := p.Create(ctx); err != nil {
		response.Error = err.Error()
		return response
	}

	info := p.Record().Info()

	if info.PublicIP != nil {
		response.PublicIP = *info.PublicIP
	}

	response.Ready = true
	return response
}

func reportBacklog(admin *rabbithole.Client, requestQueue string) {
	queueInfo, err := admin.GetQueue("/", requestQueue)

	if err != nil {
		log.WithError(err).Error("get queue info")
		return
	}

	log.WithFields(log.Fields{
		"ready":   queueInfo.MessagesReady,
		"unacked": queueInfo.MessagesUnacknowledged,
		"total":   queueInfo.Messages,
	}).Debug("request backlog")
}
