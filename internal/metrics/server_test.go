package metrics_test

import (
	"io"
	"net/http"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/project-flotta/flotta-sync-worker/internal/configuration"
	"github.com/project-flotta/flotta-sync-worker/internal/metrics"
)

func stringsReader(s string) io.Reader {
	return strings.NewReader(s)
}

var _ = Describe("Server", func() {

	var (
		transfer *metrics.TransferMetrics
		server   *metrics.Server
	)

	BeforeEach(func() {
		transfer = metrics.NewTransferMetrics()
		server = metrics.NewServer(transfer.Registry())
	})

	AfterEach(func() {
		server.Stop()
	})

	It("stays down without an address", func() {
		// when
		err := server.Init(configuration.Config{})

		// then
		Expect(err).NotTo(HaveOccurred())
		Expect(server.Address()).To(BeEmpty())
	})

	It("serves the registry", func() {
		// given
		err := server.Init(configuration.Config{MetricsAddress: "127.0.0.1:0"})
		Expect(err).NotTo(HaveOccurred())

		// when
		resp, err := http.Get("http://" + server.Address() + metrics.MetricsPath)

		// then
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(ContainSubstring("flotta_sync_progress_samples_total 0"))
	})

	It("stops when the address is removed", func() {
		// given
		Expect(server.Init(configuration.Config{MetricsAddress: "127.0.0.1:0"})).To(Succeed())
		Expect(server.Address()).NotTo(BeEmpty())

		// when
		err := server.Update(configuration.Config{})

		// then
		Expect(err).NotTo(HaveOccurred())
		Expect(server.Address()).To(BeEmpty())
	})

	It("fails on an unusable address", func() {
		// when
		err := server.Init(configuration.Config{MetricsAddress: "256.0.0.1:1"})

		// then
		Expect(err).To(HaveOccurred())
		Expect(server.Address()).To(BeEmpty())
	})
})
