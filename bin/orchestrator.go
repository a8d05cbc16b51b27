package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/litmuschaos/chaos-orchestrator/pkg/api"
	"github.com/litmuschaos/chaos-orchestrator/pkg/controller"
	"github.com/litmuschaos/chaos-orchestrator/pkg/environment"
	"github.com/litmuschaos/chaos-orchestrator/pkg/events"
	"github.com/litmuschaos/chaos-orchestrator/pkg/log"
	"github.com/litmuschaos/chaos-orchestrator/pkg/platform"
	"github.com/litmuschaos/chaos-orchestrator/pkg/registry"
	"github.com/litmuschaos/chaos-orchestrator/pkg/scheduler"
	"github.com/litmuschaos/chaos-orchestrator/pkg/workflow"
)

func init() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:          true,
		DisableSorting:         true,
		DisableLevelTruncation: true,
	})
}

var (
	configFile string
	kubeconfig string
	listenAddr string
)

func main() {
	cmd := &cobra.Command{
		Use:           "chaos-orchestrator",
		Short:         "Orchestrates chaos experiment runs, workflows and schedules",
		RunE:          serve,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to the YAML config file")
	cmd.Flags().StringVar(&kubeconfig, "kubeconfig", "", "path to the kubeconfig, in-cluster config when empty")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address, overrides the config file")

	if err := cmd.Execute(); err != nil {
		log.Fatalf("%v", err)
	}
}

func serve(cmd *cobra.Command, args []string) error {
	settings, err := environment.Load(configFile)
	if err != nil {
		return err
	}
	if kubeconfig != "" {
		settings.Kubeconfig = kubeconfig
	}
	if listenAddr != "" {
		settings.ListenAddr = listenAddr
	}

	catalog, err := registry.LoadExperimentRegistry(settings.TemplatesDir)
	if err != nil {
		return err
	}

	clients := platform.ClientSets{}
	if err := clients.GenerateClientSetFromKubeConfig(settings.Kubeconfig); err != nil {
		return err
	}
	if err := platform.NamespaceExists(cmd.Context(), clients.KubeClient, settings.AppNamespace); err != nil {
		return err
	}
	client := platform.NewEngineClient(clients)

	store := registry.NewRunStore()
	bus := events.NewBus()
	defer bus.Close()

	ctrl := controller.New(client, store, bus, settings)
	orchestrator := workflow.NewOrchestrator(ctrl, catalog, settings)
	sched := scheduler.New(ctrl, catalog, store, settings)
	server := api.NewServer(catalog, ctrl, orchestrator, sched, bus, settings)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sched.Run(ctx)
	return server.Start(ctx)
}
