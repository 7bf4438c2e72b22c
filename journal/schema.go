package journal

const Schema = `
CREATE TABLE IF NOT EXISTS positions (
	mode TEXT NOT NULL,
	account TEXT NOT NULL,
	symbol TEXT NOT NULL,
	qty REAL NOT NULL,
	avg_entry REAL NOT NULL,
	state TEXT NOT NULL,
	opened_at DATETIME NOT NULL,
	closed_at DATETIME NOT NULL,
	last_updated DATETIME NOT NULL,
	unrealized_pnl REAL NOT NULL,
	realized_pnl REAL NOT NULL,
	trade_min REAL NOT NULL,
	trade_max REAL NOT NULL,
	PRIMARY KEY (mode, account, symbol)
);

CREATE TABLE IF NOT EXISTS orders (
	order_key TEXT PRIMARY KEY,
	server_order_id TEXT NOT NULL,
	client_order_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	qty REAL NOT NULL,
	filled_qty REAL NOT NULL,
	price REAL NOT NULL,
	avg_fill_price REAL NOT NULL,
	state TEXT NOT NULL,
	mode TEXT NOT NULL,
	account TEXT NOT NULL,
	submitted_at DATETIME NOT NULL,
	filled_at DATETIME NOT NULL,
	closed_at DATETIME NOT NULL,
	last_updated DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_client ON orders(client_order_id);
CREATE INDEX IF NOT EXISTS idx_orders_closed ON orders(closed_at);

CREATE TABLE IF NOT EXISTS equity (
	mode TEXT NOT NULL,
	account TEXT NOT NULL,
	time DATETIME NOT NULL,
	balance REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_scope_time ON equity(mode, account, time);
`
