package oarstat

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/gomega"
)

const oarStatJSONJobID = 36627

const oarStatJSONOutput = `
{
   "36627" : {
      "types" : [],
      "reservation" : "None",
      "dependencies" : [],
      "Job_Id" : 36627,
      "assigned_network_address" : [
         "gengar-1",
         "gengar-2"
      ],
      "owner" : "diogo464",
      "properties" : "(( ( dedicated='NO' OR dedicated='protocol-labs' )) AND desktop_computing = 'NO') AND drain='NO'",
      "startTime" : 1751979909,
      "cpuset_name" : "diogo464_36627",
      "stderr_file" : "OAR.36627.stderr",
      "queue" : "default",
      "state" : "Running",
      "stdout_file" : "OAR.36627.stdout",
      "array_index" : 1,
      "array_id" : 36627,
      "assigned_resources" : [419, 420, 421, 422],
      "name" : null,
      "resubmit_job_id" : 0,
      "message" : "R=16,W=12:0:0,J=B (Karma=0.087,quota_ok)",
      "launchingDirectory" : "/home/diogo464",
      "jobType" : "PASSIVE",
      "submissionTime" : 1751979897,
      "project" : "default",
      "command" : "sleep 365d"
   }
}
`

func TestExtractMachinesFromOarStatJSON(t *testing.T) {
	g := NewWithT(t)

	machines, err := extractMachines([]byte(oarStatJSONOutput), oarStatJSONJobID)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(machines).To(HaveLen(2))
	g.Expect(machines[0].Hostname()).To(Equal("gengar-1"))
	g.Expect(machines[1].Hostname()).To(Equal("gengar-2"))
}

func TestExtractMachinesMissingJobKey(t *testing.T) {
	g := NewWithT(t)

	_, err := extractMachines([]byte(oarStatJSONOutput), 1)
	g.Expect(err).To(HaveOccurred())
}

func TestExtractMachinesUnknownHostname(t *testing.T) {
	g := NewWithT(t)

	output := `{"1":{"assigned_network_address":["not-a-real-machine"]}}`
	_, err := extractMachines([]byte(output), 1)
	g.Expect(err).To(HaveOccurred())
}

func TestMachinesFromNodefile(t *testing.T) {
	g := NewWithT(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "nodefile")
	g.Expect(os.WriteFile(path, []byte("gengar-1\ngengar-2\ngengar-1\n\n"), 0o644)).To(Succeed())

	g.Expect(os.Setenv("OAR_NODEFILE", path)).To(Succeed())
	defer os.Unsetenv("OAR_NODEFILE")

	machines, err := machinesFromNodefile()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(machines).To(HaveLen(2))
}

func TestMachinesFromNodefileMissingEnv(t *testing.T) {
	g := NewWithT(t)
	os.Unsetenv("OAR_NODEFILE")

	_, err := machinesFromNodefile()
	g.Expect(err).To(HaveOccurred())
}
