package rsync_test

import (
	"os"
	"path/filepath"
	"time"

	"github.com/blang/semver"
	"github.com/hashicorp/go-multierror"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/project-flotta/flotta-sync-worker/internal/rsync"
)

var _ = Describe("Options", func() {

	var (
		tmpDir  string
		exclude string
		opts    rsync.Options
		v327    = semver.MustParse("3.2.7")
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "rsync-options")
		Expect(err).NotTo(HaveOccurred())
		exclude = filepath.Join(tmpDir, "exclude.txt")
		Expect(os.WriteFile(exclude, []byte("*.tmp\n"), 0600)).To(Succeed())

		opts = rsync.Options{
			Server:      "media",
			RemotePath:  "/srv/videos",
			Destination: filepath.Join(tmpDir, "videos"),
		}
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Context("Args", func() {

		It("builds the default command line", func() {
			// when
			args, err := opts.Args(&v327)

			// then
			Expect(err).NotTo(HaveOccurred())
			Expect(args).To(Equal([]string{
				"--hard-links", "--links", "--partial", "--perms", "--progress",
				"--recursive", "--times", "--verbose", "--timeout=30", "--outbuf=Line",
				"--exclude", "*.part",
				"media:/srv/videos/", filepath.Join(tmpDir, "videos") + "/",
			}))
		})

		It("adds the optional flags", func() {
			// given
			opts.JumpHost = "bastion"
			opts.ExcludeFile = exclude
			opts.BandwidthLimit = "5m"
			opts.Timeout = 2 * time.Minute

			// when
			args, err := opts.Args(&v327)

			// then
			Expect(err).NotTo(HaveOccurred())
			Expect(args).To(ContainElements("--timeout=120", "-e", "ssh -J bastion", "--exclude-from="+exclude, "--bwlimit", "5m"))
			Expect(args[len(args)-2]).To(Equal("media:/srv/videos/"))
		})

		It("leaves out --outbuf for old or unknown versions", func() {
			// given
			old := semver.MustParse("3.0.9")

			// when
			withOld, err := opts.Args(&old)
			Expect(err).NotTo(HaveOccurred())
			withUnknown, err := opts.Args(nil)
			Expect(err).NotTo(HaveOccurred())

			// then
			Expect(withOld).NotTo(ContainElement("--outbuf=Line"))
			Expect(withUnknown).NotTo(ContainElement("--outbuf=Line"))
		})

		It("keeps existing trailing slashes", func() {
			// given
			opts.RemotePath = "videos/"
			opts.Destination = tmpDir + "/"

			// when
			args, err := opts.Args(nil)

			// then
			Expect(err).NotTo(HaveOccurred())
			Expect(args[len(args)-2:]).To(Equal([]string{"media:videos/", tmpDir + "/"}))
		})
	})

	Context("LocalDestination", func() {

		It("expands the home directory", func() {
			// given
			home, err := os.UserHomeDir()
			Expect(err).NotTo(HaveOccurred())
			opts.Destination = "~/videos"

			// when
			dest, err := opts.LocalDestination()

			// then
			Expect(err).NotTo(HaveOccurred())
			Expect(dest).To(Equal(filepath.Join(home, "videos") + "/"))
		})

		It("makes relative paths absolute", func() {
			// given
			wd, err := os.Getwd()
			Expect(err).NotTo(HaveOccurred())
			opts.Destination = "videos"

			// when
			dest, err := opts.LocalDestination()

			// then
			Expect(err).NotTo(HaveOccurred())
			Expect(dest).To(Equal(filepath.Join(wd, "videos") + "/"))
		})
	})

	Context("Validate", func() {

		It("requires an existing exclude file", func() {
			// given
			opts.ExcludeFile = filepath.Join(tmpDir, "missing.txt")

			// when
			err := opts.Validate()

			// then
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("missing.txt does not exist"))
		})

		It("reports every missing field", func() {
			// given
			opts = rsync.Options{ExcludeFile: tmpDir}

			// when
			err := opts.Validate()

			// then
			merr, ok := err.(*multierror.Error)
			Expect(ok).To(BeTrue())
			Expect(merr.Errors).To(HaveLen(4))
		})
	})
})
