package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE pipeline_runs (
				id UUID PRIMARY KEY,
				trigger VARCHAR(50) NOT NULL CHECK (trigger IN ('scheduled', 'manual')),
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'succeeded', 'failed')),
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE,
				failure_reason TEXT,
				nodes JSONB NOT NULL DEFAULT '[]'
			);

			CREATE INDEX idx_pipeline_runs_started_at ON pipeline_runs(started_at DESC);
			CREATE INDEX idx_pipeline_runs_status ON pipeline_runs(status);
		`,
		2: `
			ALTER TABLE pipeline_runs ADD COLUMN ingestion JSONB;
		`,
	}
}
